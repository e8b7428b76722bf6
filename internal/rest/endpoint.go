package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danmuck/edgelink/internal/protocol"
)

// GatewayEndpoint discovers the gateway URL with GET /gateway/bot.
type GatewayEndpoint struct {
	Dispatcher *Dispatcher
	Route      string
}

func NewGatewayEndpoint(d *Dispatcher) *GatewayEndpoint {
	return &GatewayEndpoint{Dispatcher: d, Route: "/gateway/bot"}
}

// Lookup returns the full discovery payload.
func (e *GatewayEndpoint) Lookup(ctx context.Context) (protocol.GatewayBot, error) {
	var out protocol.GatewayBot
	route := e.Route
	if route == "" {
		route = "/gateway/bot"
	}
	if err := e.Dispatcher.EnqueueJSON(ctx, http.MethodGet, route, nil, &out); err != nil {
		return protocol.GatewayBot{}, err
	}
	return out, nil
}

// GatewayURL returns the discovered URL with version and encoding applied.
func (e *GatewayEndpoint) GatewayURL(ctx context.Context) (string, error) {
	bot, err := e.Lookup(ctx)
	if err != nil {
		return "", fmt.Errorf("rest: gateway lookup: %w", err)
	}
	return protocol.GatewayURL(bot.URL)
}
