// Package noop provides a transport that discards every body.
// Useful for testing and for disabling delivery.
package noop

import (
	"context"

	"github.com/farmared/pulse/pkg/pulse"
)

// noopTransport discards all bodies.
type noopTransport struct{}

// NewNoopTransport creates a transport that discards all bodies.
func NewNoopTransport() pulse.Transport {
	return &noopTransport{}
}

// Send discards the body and returns nil.
func (t *noopTransport) Send(ctx context.Context, endpoint string, payload any) error {
	return nil
}
