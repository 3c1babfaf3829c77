package rpc

import (
	"context"
	"fmt"
)

// NullTransport is a stand-in Transport for processes that wire the
// queue and cache without a live JSON-RPC endpoint configured yet. It
// always fails; embedders are expected to supply their own Transport
// (an HTTP JSON-RPC client, a WebSocket client, or a test double).
type NullTransport struct{}

func (NullTransport) Call(ctx context.Context, network string, req Request) (Response, error) {
	return Response{}, fmt.Errorf("rpc: no transport configured for network %q, method %q", network, req.Method)
}
