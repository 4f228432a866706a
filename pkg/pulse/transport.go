// transport.go defines the Transport interface for collector requests.

package pulse

import "context"

// Collector endpoints.
const (
	SessionEndpoint = "/api/analytics/session"
	ErrorEndpoint   = "/api/errors/frontend"
)

// Transport delivers one JSON body to a collector endpoint.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Send posts payload to endpoint. Any non-2xx response or network failure
	// is an error; the response body is not interpreted.
	Send(ctx context.Context, endpoint string, payload any) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint string, payload any) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, endpoint string, payload any) error {
	return f(ctx, endpoint, payload)
}

// noopTransportInternal is an internal noop transport to avoid import cycles.
type noopTransportInternal struct{}

func (noopTransportInternal) Send(ctx context.Context, endpoint string, payload any) error {
	return nil
}
