// Package console provides a transport that writes bodies to the developer
// log instead of the network. Useful for development and debugging.
package console

import (
	"context"

	"github.com/farmared/pulse/pkg/logger"
	"github.com/farmared/pulse/pkg/pulse"
)

// Option configures the console transport.
type Option func(*consoleConfig)

type consoleConfig struct {
	verbose bool
}

// WithVerbose logs full bodies instead of a summary line.
func WithVerbose() Option {
	return func(c *consoleConfig) {
		c.verbose = true
	}
}

// consoleTransport logs every body it is given.
type consoleTransport struct {
	logger  logger.Logger
	verbose bool
}

// NewConsoleTransport creates a transport that logs to log. A nil log uses a
// JSON logger on stderr.
func NewConsoleTransport(log logger.Logger, opts ...Option) pulse.Transport {
	cfg := &consoleConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}
	return &consoleTransport{
		logger:  log.WithComponent("console_transport"),
		verbose: cfg.verbose,
	}
}

// Send logs a line for the body and returns nil.
func (t *consoleTransport) Send(ctx context.Context, endpoint string, payload any) error {
	ev := t.logger.Info().Str("endpoint", endpoint)
	if t.verbose {
		ev = ev.Interface("body", payload)
	} else {
		ev = ev.Str("kind", describe(payload))
	}
	ev.Msg("Telemetry body")
	return nil
}

// describe names the body kind.
func describe(payload any) string {
	if k, ok := payload.(pulse.Kinded); ok {
		return k.Kind()
	}
	if payload == nil {
		return "empty"
	}
	return "unknown"
}
