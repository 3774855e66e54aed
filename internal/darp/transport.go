package darp

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DARPAI/portal-backend/internal/store"
)

// transportBuilder is overridden in tests to connect through in-memory
// transports.
var transportBuilder = buildTransport

func buildTransport(serverURL, protocol string) (mcp.Transport, error) {
	switch protocol {
	case store.TransportStreamableHTTP:
		return &mcp.StreamableClientTransport{Endpoint: serverURL}, nil
	case store.TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: serverURL}, nil
	default:
		return nil, fmt.Errorf("unsupported transport protocol %q", protocol)
	}
}
