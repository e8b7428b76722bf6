package gateway

import (
	"encoding/json"

	"github.com/danmuck/edgelink/internal/protocol"
)

// Handler receives session events. Calls come from the session goroutine,
// one at a time; a slow handler delays frame processing.
type Handler interface {
	OnDispatch(event string, data json.RawMessage)
	OnReady(ready protocol.Ready)
	OnResumed()
	OnDisconnect(code protocol.CloseCode, reason string)
	OnReconnecting(attempt int)
	OnFatalError(err error)
}

// NopHandler ignores everything. Embed it to implement only some callbacks.
type NopHandler struct{}

func (NopHandler) OnDispatch(string, json.RawMessage) {}
func (NopHandler) OnReady(protocol.Ready) {}
func (NopHandler) OnResumed() {}
func (NopHandler) OnDisconnect(protocol.CloseCode, string) {}
func (NopHandler) OnReconnecting(int) {}
func (NopHandler) OnFatalError(error) {}

// Handlers fans each event out to every member in order.
type Handlers []Handler

func (hs Handlers) OnDispatch(event string, data json.RawMessage) {
	for _, h := range hs {
		h.OnDispatch(event, data)
	}
}

func (hs Handlers) OnReady(ready protocol.Ready) {
	for _, h := range hs {
		h.OnReady(ready)
	}
}

func (hs Handlers) OnResumed() {
	for _, h := range hs {
		h.OnResumed()
	}
}

func (hs Handlers) OnDisconnect(code protocol.CloseCode, reason string) {
	for _, h := range hs {
		h.OnDisconnect(code, reason)
	}
}

func (hs Handlers) OnReconnecting(attempt int) {
	for _, h := range hs {
		h.OnReconnecting(attempt)
	}
}

func (hs Handlers) OnFatalError(err error) {
	for _, h := range hs {
		h.OnFatalError(err)
	}
}
