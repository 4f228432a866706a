// unload.go defines the single-attempt send used while the page is torn down.

package pulse

import (
	"context"
	"time"
)

// UnloadSender hands a body off for delivery while the page is closing. It
// must not block page teardown on the network and gets exactly one attempt;
// nobody is left to observe the outcome. It reports whether the body was
// accepted for sending.
type UnloadSender interface {
	SendOnUnload(endpoint string, payload any) bool
}

// UnloadSenderFunc adapts a function to UnloadSender.
type UnloadSenderFunc func(endpoint string, payload any) bool

// SendOnUnload calls f.
func (f UnloadSenderFunc) SendOnUnload(endpoint string, payload any) bool {
	return f(endpoint, payload)
}

// SyncUnloadSender is the synchronous fallback for hosts without a detached
// send primitive: it blocks teardown for at most Timeout.
type SyncUnloadSender struct {
	Transport Transport
	Timeout   time.Duration
}

// SendOnUnload sends through Transport and reports whether it succeeded.
func (s SyncUnloadSender) SendOnUnload(endpoint string, payload any) bool {
	if s.Transport == nil {
		return false
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Transport.Send(ctx, endpoint, payload) == nil
}

type noopUnloadSenderInternal struct{}

func (noopUnloadSenderInternal) SendOnUnload(string, any) bool { return false }
