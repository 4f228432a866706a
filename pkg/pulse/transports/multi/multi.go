// Package multi provides a transport that fans out to multiple transports.
// All transports receive all bodies; errors are aggregated.
package multi

import (
	"context"
	"errors"

	"github.com/farmared/pulse/pkg/pulse"
)

// multiTransport fans out to multiple transports.
type multiTransport struct {
	transports []pulse.Transport
}

// NewMultiTransport creates a transport that sends to every given transport.
// Nil entries are skipped. Errors are aggregated via errors.Join.
func NewMultiTransport(transports ...pulse.Transport) pulse.Transport {
	kept := make([]pulse.Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &multiTransport{transports: kept}
}

// Send calls every transport, even after one fails.
func (m *multiTransport) Send(ctx context.Context, endpoint string, payload any) error {
	var errs []error
	for _, t := range m.transports {
		if err := t.Send(ctx, endpoint, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
