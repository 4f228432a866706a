// queue.go delivers error records sequentially with retry, so a collector
// outage slows delivery down instead of producing a retry storm.

package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/farmared/pulse/pkg/logger"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("delivery queue is closed")

// SendRecordFunc delivers one error record.
type SendRecordFunc func(ctx context.Context, record ErrorRecord) error

// QueueOption configures a DeliveryQueue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	size        int
	interval    time.Duration
	delay       time.Duration
	maxAttempts int
	timeout     time.Duration
	onDropped   func(record ErrorRecord)
	logger      logger.Logger
}

// WithQueueSize sets the maximum number of queued records (default: 100).
func WithQueueSize(size int) QueueOption {
	return func(c *queueConfig) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithDrainInterval sets how often a drain pass starts (default: 2s).
func WithDrainInterval(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithDrainDelay sets the pause between attempts within a pass (default: 100ms).
// Zero disables the pause.
func WithDrainDelay(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithMaxAttempts sets how many times a record is tried before it is dropped
// (default: 3).
func WithMaxAttempts(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAttemptTimeout bounds a single delivery attempt (default: 10s).
func WithAttemptTimeout(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithOnDropped sets a callback invoked for every record dropped, either by
// overflow or after its last failed attempt.
func WithOnDropped(fn func(record ErrorRecord)) QueueOption {
	return func(c *queueConfig) {
		c.onDropped = fn
	}
}

// WithQueueLogger sets the queue's logger.
func WithQueueLogger(log logger.Logger) QueueOption {
	return func(c *queueConfig) {
		if log != nil {
			c.logger = log
		}
	}
}

type queuedRecord struct {
	record   ErrorRecord
	attempts int
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Pending             int
	Delivered           int64
	Failed              int64
	Dropped             int64
	ConsecutiveFailures int
}

// DeliveryQueue is a bounded FIFO of error records drained by a recurring
// timer, one request in flight at a time.
type DeliveryQueue struct {
	send  SendRecordFunc
	clock clock.WithTicker
	cfg   queueConfig

	mu     sync.Mutex
	items  []queuedRecord
	closed bool
	stats  QueueStats

	drainMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDeliveryQueue creates a queue delivering through send.
func NewDeliveryQueue(send SendRecordFunc, clk clock.WithTicker, opts ...QueueOption) *DeliveryQueue {
	cfg := queueConfig{
		size:        100,
		interval:    2 * time.Second,
		delay:       100 * time.Millisecond,
		maxAttempts: 3,
		timeout:     10 * time.Second,
		logger:      logger.NewTestLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	cfg.logger = cfg.logger.WithComponent("delivery_queue")

	return &DeliveryQueue{
		send:  send,
		clock: clk,
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
}

// Enqueue appends a record. When the queue is full the oldest record is
// dropped to make room.
func (q *DeliveryQueue) Enqueue(record ErrorRecord) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	var dropped *ErrorRecord
	if len(q.items) >= q.cfg.size {
		oldest := q.items[0].record
		dropped = &oldest
		q.items = q.items[1:]
		q.stats.Dropped++
	}
	q.items = append(q.items, queuedRecord{record: record})
	q.mu.Unlock()

	if dropped != nil {
		q.logger().Warn().
			Str("module", dropped.Module).
			Str("fingerprint", Fingerprint(*dropped)).
			Msg("Delivery queue full, dropped oldest record")
		q.notifyDropped(*dropped)
	}
	return nil
}

// Run drains on every interval until ctx is done or Close is called.
func (q *DeliveryQueue) Run(ctx context.Context) {
	ticker := q.clock.NewTicker(q.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C():
			q.Drain(ctx)
		}
	}
}

// Drain runs one pass over the records queued when the pass starts. A failed
// record moves to the back of the queue until it runs out of attempts. Only
// one pass runs at a time.
func (q *DeliveryQueue) Drain(ctx context.Context) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		if i > 0 && !q.pause(ctx) {
			return
		}

		item, ok := q.pop()
		if !ok {
			return
		}

		err := q.attempt(ctx, item.record)
		item.attempts++
		q.settle(item, err)
	}
}

// Flush runs one drain pass immediately.
func (q *DeliveryQueue) Flush(ctx context.Context) error {
	q.Drain(ctx)
	return ctx.Err()
}

// Close stops the drain timer and rejects further records. An attempt already
// in flight is left to finish.
func (q *DeliveryQueue) Close() error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
	})
	return nil
}

// Len returns the number of pending records.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the queue counters.
func (q *DeliveryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.items)
	return s
}

func (q *DeliveryQueue) pop() (queuedRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedRecord{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *DeliveryQueue) settle(item queuedRecord, err error) {
	q.mu.Lock()
	if err == nil {
		q.stats.Delivered++
		q.stats.ConsecutiveFailures = 0
		q.mu.Unlock()
		return
	}

	q.stats.Failed++
	q.stats.ConsecutiveFailures++
	requeue := item.attempts < q.cfg.maxAttempts
	if requeue {
		q.items = append(q.items, item)
	} else {
		q.stats.Dropped++
	}
	q.mu.Unlock()

	q.logger().Debug().Err(err).
		Str("module", item.record.Module).
		Int("attempts", item.attempts).
		Msg("Error record delivery failed")

	if !requeue {
		q.logger().Warn().Str("module", item.record.Module).
			Str("fingerprint", Fingerprint(item.record)).
			Int("attempts", item.attempts).
			Msg("Dropping error record after final attempt")
		q.notifyDropped(item.record)
	}
}

// attempt delivers one record. The request outlives tracker cancellation so
// an attempt in flight at unload still completes.
func (q *DeliveryQueue) attempt(ctx context.Context, record ErrorRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	if q.send == nil {
		return nil
	}
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.timeout)
	defer cancel()
	return q.send(attemptCtx, record)
}

func (q *DeliveryQueue) pause(ctx context.Context) bool {
	if q.cfg.delay <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-q.clock.After(q.cfg.delay):
		return true
	}
}

func (q *DeliveryQueue) notifyDropped(record ErrorRecord) {
	if q.cfg.onDropped == nil {
		return
	}
	defer func() { _ = recover() }()
	q.cfg.onDropped(record)
}

func (q *DeliveryQueue) logger() logger.Logger {
	return q.cfg.logger
}
