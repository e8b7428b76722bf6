package gateway

import (
	"context"

	"github.com/danmuck/edgelink/internal/protocol"
)

// EndpointSource yields the discovery URL used for fresh identifies.
// Resumes reuse the URL issued by READY instead.
type EndpointSource interface {
	GatewayURL(ctx context.Context) (string, error)
}

// StaticEndpoint always returns the same base URL.
type StaticEndpoint string

func (s StaticEndpoint) GatewayURL(context.Context) (string, error) {
	return protocol.GatewayURL(string(s))
}
