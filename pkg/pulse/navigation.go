// navigation.go detects in-app path changes, by polling or from a router hook.

package pulse

import (
	"context"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

// DefaultPollInterval is how often PollingSource samples the current path.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultAdminPrefix marks paths excluded from page-view telemetry.
const DefaultAdminPrefix = "/admin"

// Transition is one observed path change.
type Transition struct {
	From string
	To   string
	At   time.Time
}

// NavigationSource reports path transitions. Watch blocks until ctx is done,
// calling emit once per observed change, in order.
type NavigationSource interface {
	Watch(ctx context.Context, emit func(Transition)) error
}

// PollingSource samples the current path on a fixed interval. It needs no
// router integration; detection latency is bounded by the interval.
type PollingSource struct {
	read     func() string
	clock    clock.WithTicker
	interval time.Duration
	popstate chan struct{}
}

// NewPollingSource creates a PollingSource reading the path with read.
func NewPollingSource(read func() string, clk clock.WithTicker, interval time.Duration) *PollingSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &PollingSource{
		read:     read,
		clock:    clk,
		interval: interval,
		popstate: make(chan struct{}, 1),
	}
}

// PopState triggers an immediate comparison, as the browser's back/forward
// event does. It never blocks.
func (p *PollingSource) PopState() {
	select {
	case p.popstate <- struct{}{}:
	default:
	}
}

// Watch polls until ctx is done.
func (p *PollingSource) Watch(ctx context.Context, emit func(Transition)) error {
	last := p.read()
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	check := func() {
		current := p.read()
		if current == last {
			return
		}
		emit(Transition{From: last, To: current, At: p.clock.Now()})
		last = current
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			check()
		case <-p.popstate:
			check()
		}
	}
}

// RouterSource receives paths from a host router hook. Navigate may be called
// from any goroutine; transitions are emitted in call order.
type RouterSource struct {
	clock clock.PassiveClock
	paths chan string
	last  string
}

// NewRouterSource creates a RouterSource whose first page is initial.
func NewRouterSource(initial string, clk clock.PassiveClock) *RouterSource {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RouterSource{
		clock: clk,
		paths: make(chan string, 16),
		last:  initial,
	}
}

// Navigate reports that the router moved to path. It blocks only when the
// watcher has fallen 16 navigations behind.
func (r *RouterSource) Navigate(path string) {
	r.paths <- path
}

// Watch emits transitions until ctx is done.
func (r *RouterSource) Watch(ctx context.Context, emit func(Transition)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-r.paths:
			if path == r.last {
				continue
			}
			emit(Transition{From: r.last, To: path, At: r.clock.Now()})
			r.last = path
		}
	}
}

// IsAdminPath reports whether path is prefix itself or below it.
func IsAdminPath(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
