// capture.go turns uncaught failures into error records and hands them to
// the delivery queue. Nothing here may panic into the host.

package pulse

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/farmared/pulse/pkg/logger"
)

// Module tags for records produced by the global hooks.
const (
	ModuleGlobalError        = "global-error-handler"
	ModuleUnhandledRejection = "unhandled-promise-rejection"
	ModuleApp                = "app"
)

// UncaughtError is what the host's global error hook reports.
type UncaughtError struct {
	Err     error
	Message string
	Source  string
	Line    int
	Column  int
}

// ErrorSource is the host's global failure hook: uncaught synchronous errors
// and rejected asynchronous operations nobody handled.
type ErrorSource interface {
	OnError(handler func(UncaughtError))
	OnRejection(handler func(reason any))
}

// Describer supplies the page URL and visitor metadata at capture time.
type Describer func(ctx context.Context) (url string, meta ErrorMetadata)

// Deliverer accepts a finished record for delivery.
type Deliverer func(record ErrorRecord) error

// ErrorCapture normalizes failures into ErrorRecords, writes them to the
// developer log and passes them to a Deliverer.
type ErrorCapture struct {
	describe  Describer
	deliver   Deliverer
	scrubber  *Scrubber
	logger    logger.Logger
	installed atomic.Bool
}

// NewErrorCapture creates an ErrorCapture. A nil deliver logs records without
// sending them, as in development mode. scrubber may be nil.
func NewErrorCapture(describe Describer, deliver Deliverer, scrubber *Scrubber, log logger.Logger) *ErrorCapture {
	if log == nil {
		log = logger.NewTestLogger()
	}
	return &ErrorCapture{
		describe: describe,
		deliver:  deliver,
		scrubber: scrubber,
		logger:   log.WithComponent("error_capture"),
	}
}

// Install registers the global handlers on src. Only the first successful
// call on a capture registers anything; later calls return false. A source
// that panics while registering leaves the capture uninstalled.
func (c *ErrorCapture) Install(src ErrorSource) (installed bool) {
	if src == nil || !c.installed.CompareAndSwap(false, true) {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn().Interface("panic", r).Msg("Installing error handlers failed")
			c.installed.Store(false)
			installed = false
		}
	}()

	src.OnError(func(ev UncaughtError) {
		data := map[string]any{}
		if ev.Source != "" {
			data["filename"] = ev.Source
			data["lineno"] = ev.Line
			data["colno"] = ev.Column
		}
		var failure any = ev.Err
		if ev.Err == nil {
			failure = ev.Message
		}
		c.capture(context.Background(), failure, "", ModuleGlobalError, data)
	})
	src.OnRejection(func(reason any) {
		c.capture(context.Background(), reason, "", ModuleUnhandledRejection, nil)
	})
	return true
}

// Installed reports whether Install has registered the handlers.
func (c *ErrorCapture) Installed() bool {
	return c.installed.Load()
}

// LogError records failure, which may be an error, a string or any value.
// An empty module is reported as "app". Safe to call from anywhere.
func (c *ErrorCapture) LogError(ctx context.Context, failure any, module string, data map[string]any) {
	c.capture(ctx, failure, "", module, data)
}

// Recover captures a panic, records it and returns the recovered value.
// It does NOT re-panic.
//
// Use in defer:
//
//	func handler(ctx context.Context) {
//	    defer capture.Recover(ctx)
//	    // code that might panic
//	}
func (c *ErrorCapture) Recover(ctx context.Context) any {
	r := recover()
	if r == nil {
		return nil
	}
	c.capture(ctx, r, string(debug.Stack()), ModuleGlobalError, nil)
	return r
}

// Go runs fn in a new goroutine. A returned error is recorded as an unhandled
// rejection and a panic as an uncaught error.
func (c *ErrorCapture) Go(ctx context.Context, fn func(ctx context.Context) error) {
	go func() {
		defer c.Recover(ctx)
		if err := fn(ctx); err != nil {
			c.capture(ctx, err, "", ModuleUnhandledRejection, nil)
		}
	}()
}

func (c *ErrorCapture) capture(ctx context.Context, failure any, stack, module string, data map[string]any) {
	// A failure inside capture is dropped so the original error is not masked.
	defer func() { _ = recover() }()

	if ctx == nil {
		ctx = context.Background()
	}
	record := c.normalize(ctx, failure, stack, module, data)

	c.logger.Error().
		Str("module", record.Module).
		Str("fingerprint", Fingerprint(record)).
		Str("url", record.URL).
		Str("stack", record.Stack).
		Interface("data", record.Data).
		Msg(record.Message)

	if c.deliver == nil {
		return
	}
	if c.scrubber != nil {
		record = c.scrubber.ScrubRecord(record)
	}
	if err := c.deliver(record); err != nil {
		c.logger.Debug().Err(err).Msg("Error record not accepted for delivery")
	}
}

func (c *ErrorCapture) normalize(ctx context.Context, failure any, stack, module string, data map[string]any) ErrorRecord {
	message, errStack := describeFailure(failure)
	if stack == "" {
		stack = errStack
	}
	if module == "" {
		module = ModuleApp
	}

	record := ErrorRecord{
		Message: message,
		Stack:   stack,
		Module:  module,
		Data:    data,
	}
	if c.describe != nil {
		record.URL, record.Metadata = c.describe(ctx)
	}
	if id, ok := UserIDFromContext(ctx); ok {
		record.Metadata.UserID = id
	}
	return record
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// describeFailure returns a message and, for errors built with
// github.com/pkg/errors, the stack they carry.
func describeFailure(failure any) (string, string) {
	switch v := failure.(type) {
	case nil:
		return "<nil>", ""
	case error:
		var st stackTracer
		if errors.As(v, &st) {
			return v.Error(), fmt.Sprintf("%+v", st.StackTrace())
		}
		return v.Error(), ""
	case string:
		return v, ""
	case fmt.Stringer:
		return v.String(), ""
	default:
		return fmt.Sprintf("%v", v), ""
	}
}
