package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/danmuck/edgelink/internal/testutil/testlog"
)

type countingHandler struct {
	NopHandler
	fatal int
}

func (h *countingHandler) OnFatalError(error) { h.fatal++ }

func TestHandlersFanOut(t *testing.T) {
	testlog.Start(t)
	a, b := &countingHandler{}, &countingHandler{}
	hs := Handlers{a, b, NopHandler{}}
	hs.OnDispatch("X", nil)
	hs.OnFatalError(errors.New("boom"))
	if a.fatal != 1 || b.fatal != 1 {
		t.Fatalf("fan-out counts a=%d b=%d", a.fatal, b.fatal)
	}
}

func TestFatalErrorFormatting(t *testing.T) {
	testlog.Start(t)
	err := error(&FatalError{Code: protocol.CloseAuthenticationFailed, Reason: "bad token"})
	if !errors.Is(err, ErrFatalClose) {
		t.Fatalf("FatalError must match ErrFatalClose")
	}
	want := "gateway: fatal close 4004 (authentication_failed): bad token"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestStaticEndpoint(t *testing.T) {
	testlog.Start(t)
	got, err := StaticEndpoint("wss://gw.example.test/").GatewayURL(context.Background())
	if err != nil {
		t.Fatalf("gateway url: %v", err)
	}
	if got != "wss://gw.example.test/?encoding=json&v=10" {
		t.Fatalf("gateway url = %q", got)
	}
	if _, err := StaticEndpoint("http://x").GatewayURL(context.Background()); !errors.Is(err, protocol.ErrInvalidGatewayURL) {
		t.Fatalf("expected ErrInvalidGatewayURL, got %v", err)
	}
}
