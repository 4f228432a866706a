// tracker.go provides the Tracker service object that wires session identity,
// navigation, heartbeat, error capture and delivery together.

package pulse

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/farmared/pulse/pkg/logger"
)

var errTrackingOff = errors.New("telemetry is not accepting records")

// Option configures a Tracker.
type Option func(*trackerOptions)

type trackerOptions struct {
	cfg       Config
	clock     clock.WithTicker
	storage   Storage
	transport Transport
	unload    UnloadSender
	nav       NavigationSource
	logger    logger.Logger
	scrubber  *Scrubber
}

// WithConfig sets the tracker configuration (default: DefaultConfig()).
func WithConfig(cfg Config) Option {
	return func(o *trackerOptions) {
		o.cfg = cfg
	}
}

// WithClock sets the clock driving every timer (default: the real clock).
func WithClock(clk clock.WithTicker) Option {
	return func(o *trackerOptions) {
		o.clock = clk
	}
}

// WithStorage sets where the session identity is persisted
// (default: a MemoryStorage).
func WithStorage(storage Storage) Option {
	return func(o *trackerOptions) {
		o.storage = storage
	}
}

// WithTransport sets the collector transport (default: discard).
func WithTransport(transport Transport) Option {
	return func(o *trackerOptions) {
		o.transport = transport
	}
}

// WithUnloadSender sets the unload-safe sender for the final page view
// (default: none, the final page view is skipped).
func WithUnloadSender(sender UnloadSender) Option {
	return func(o *trackerOptions) {
		o.unload = sender
	}
}

// WithNavigationSource replaces the default polling source, for hosts with a
// router hook.
func WithNavigationSource(src NavigationSource) Option {
	return func(o *trackerOptions) {
		o.nav = src
	}
}

// WithLogger sets the developer log (default: discard).
func WithLogger(log logger.Logger) Option {
	return func(o *trackerOptions) {
		o.logger = log
	}
}

// WithScrubbing redacts error records with the given configuration.
func WithScrubbing(cfg ScrubberConfig) Option {
	return func(o *trackerOptions) {
		o.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() Option {
	return WithScrubbing(DefaultScrubberConfig())
}

type pageState struct {
	path  string
	title string
	start time.Time
}

func (p pageState) view(end time.Time) PageView {
	spent := int(math.Round(end.Sub(p.start).Seconds()))
	if spent < 0 {
		spent = 0
	}
	return PageView{
		Path:      p.path,
		Title:     p.title,
		Timestamp: p.start,
		TimeSpent: spent,
	}
}

// Tracker is one page session's telemetry agent. Its methods are safe for
// concurrent use and never panic into the caller.
type Tracker struct {
	cfg       Config
	env       Environment
	clock     clock.WithTicker
	transport Transport
	unload    UnloadSender
	nav       NavigationSource
	logger    logger.Logger
	device    Device

	sessions  *SessionStore
	heartbeat *HeartbeatMonitor
	queue     *DeliveryQueue
	capture   *ErrorCapture

	disabled atomic.Bool
	touchMu  sync.Mutex

	mu        sync.Mutex
	started   bool
	unloaded  bool
	sessionID string
	userID    string
	page      pageState
	ctx       context.Context
	cancel    context.CancelFunc
	lastSend  chan struct{}
	wg        sync.WaitGroup
}

// New creates a Tracker for the page described by env.
func New(env Environment, opts ...Option) *Tracker {
	o := &trackerOptions{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.RealClock{}
	}
	if o.storage == nil {
		o.storage = NewMemoryStorage()
	}
	if o.transport == nil {
		o.transport = noopTransportInternal{}
	}
	if o.unload == nil {
		o.unload = noopUnloadSenderInternal{}
	}
	if o.logger == nil {
		o.logger = logger.NewTestLogger()
	}
	if o.nav == nil {
		o.nav = NewPollingSource(func() string { return pageURL(env).Path }, o.clock, o.cfg.PollInterval)
	}

	t := &Tracker{
		cfg:       o.cfg,
		env:       env,
		clock:     o.clock,
		transport: o.transport,
		unload:    o.unload,
		nav:       o.nav,
		logger:    o.logger.WithComponent("tracker"),
		device:    DetectDevice(env.UserAgent(), env.Screen().Width),
		ctx:       context.Background(),
	}

	t.sessions = NewSessionStore(o.storage, o.clock, o.cfg.SessionTTL, o.logger)
	t.heartbeat = NewHeartbeatMonitor(HeartbeatConfig{
		Interval:         o.cfg.HeartbeatInterval,
		PauseDelay:       o.cfg.HeartbeatPause,
		FailureThreshold: o.cfg.FailureThreshold,
		Timeout:          o.cfg.RequestTimeout,
	}, o.clock, t.ping, o.logger)
	t.queue = NewDeliveryQueue(t.sendRecord, o.clock,
		WithQueueSize(o.cfg.QueueSize),
		WithDrainInterval(o.cfg.DrainInterval),
		WithDrainDelay(o.cfg.DrainDelay),
		WithMaxAttempts(o.cfg.MaxAttempts),
		WithAttemptTimeout(o.cfg.RequestTimeout),
		WithQueueLogger(o.logger),
	)
	t.capture = NewErrorCapture(t.describe, t.acceptRecord, o.scrubber, o.logger)

	return t
}

// Start initializes the session and starts the heartbeat, navigation and
// delivery timers. In development mode it only logs. Calling Start again is
// a no-op. The timers stop when ctx is done or on Unload.
func (t *Tracker) Start(ctx context.Context) (err error) {
	defer t.guard("start")

	t.mu.Lock()
	if t.started || t.unloaded {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	switch {
	case !t.cfg.Production:
		t.logger.Debug().Msg("Development mode, telemetry disabled")
		return nil
	case t.cfg.IgnoreBots && t.device.Bot:
		t.logger.Debug().Str("user_agent", t.env.UserAgent()).Msg("Crawler session, telemetry disabled")
		return nil
	case t.disabled.Load():
		return nil
	}
	if err := t.cfg.Validate(); err != nil {
		t.logger.Warn().Err(err).Msg("Invalid telemetry config")
		t.disabled.Store(true)
		t.halt("Telemetry halted by invalid config")
		return err
	}

	sessionID := t.touch(ctx)
	session := BuildSession(sessionID, t.env, t.device)
	runCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.page = pageState{path: pageURL(t.env).Path, title: t.env.Title(), start: t.clock.Now()}
	t.ctx = runCtx
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info().
		Str("session_id", sessionID).
		Str("device", string(t.device.Type)).
		Str("landing_page", session.LandingPage).
		Msg("Telemetry session started")

	t.sendAsync(SessionEndpoint, session)

	t.spawn("heartbeat", func() { t.heartbeat.Run(runCtx) })
	t.spawn("navigation", func() {
		if err := t.nav.Watch(runCtx, t.onTransition); err != nil {
			t.logger.Warn().Err(err).Msg("Navigation watcher stopped")
		}
	})
	t.spawn("delivery", func() { t.queue.Run(runCtx) })

	return nil
}

// SessionID returns the persisted session id, refreshing its expiry. It is
// the id the tracker's bodies carry.
func (t *Tracker) SessionID(ctx context.Context) (id string) {
	defer t.guard("session_id")
	return t.touch(ctx)
}

// SetUserID attaches a signed-in user to subsequent error records.
func (t *Tracker) SetUserID(id string) {
	t.mu.Lock()
	t.userID = id
	t.mu.Unlock()
}

// TrackEvent sends a custom engagement event immediately. It is not retried.
func (t *Tracker) TrackEvent(ctx context.Context, event CustomEvent) {
	defer t.guard("track_event")
	if !t.sending() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.clock.Now()
	}
	t.sendAsync(SessionEndpoint, eventBody{SessionID: t.touch(ctx), Event: event})
}

// LogError records a failure for delivery. See ErrorCapture.LogError.
func (t *Tracker) LogError(ctx context.Context, failure any, module string, data map[string]any) {
	defer t.guard("log_error")
	t.capture.LogError(ctx, failure, module, data)
}

// InstallErrorHandlers registers the global failure hooks once.
func (t *Tracker) InstallErrorHandlers(src ErrorSource) (installed bool) {
	defer t.guard("install")
	return t.capture.Install(src)
}

// Errors returns the tracker's ErrorCapture, for Recover and Go.
func (t *Tracker) Errors() *ErrorCapture {
	return t.capture
}

// HeartbeatState returns the heartbeat circuit state.
func (t *Tracker) HeartbeatState() HeartbeatState {
	return t.heartbeat.State()
}

// QueueStats returns the delivery queue counters.
func (t *Tracker) QueueStats() QueueStats {
	return t.queue.Stats()
}

// Disable opts the visitor out: the heartbeat stops and no further record or
// event is accepted. Records still queued are not sent.
func (t *Tracker) Disable() {
	defer t.guard("disable")
	if t.disabled.Swap(true) {
		return
	}
	t.halt("Telemetry disabled by opt-out")
}

// halt stops the heartbeat and the delivery queue. Callers set disabled first.
func (t *Tracker) halt(msg string) {
	t.heartbeat.Stop()
	pending := t.queue.Len()
	_ = t.queue.Close()
	t.logger.Info().Int("discarded_records", pending).Msg(msg)
}

// Unload ends the page: it sends the final page view through the unload
// sender, then stops the heartbeat, navigation and delivery timers. An error
// delivery already in flight is not cancelled.
func (t *Tracker) Unload() {
	defer t.guard("unload")

	t.mu.Lock()
	if t.unloaded {
		t.mu.Unlock()
		return
	}
	t.unloaded = true
	page := t.page
	sessionID := t.sessionID
	cancel := t.cancel
	t.mu.Unlock()

	t.heartbeat.Stop()
	if cancel != nil {
		cancel()
	}

	if cancel == nil || !t.sending() || page.path == "" || IsAdminPath(page.path, t.cfg.AdminPrefix) {
		return
	}
	body := pageViewBody{
		SessionID:  sessionID,
		PageView:   page.view(t.clock.Now()),
		EndSession: true,
	}
	if !t.unload.SendOnUnload(SessionEndpoint, body) {
		t.logger.Debug().Str("path", page.path).Msg("Final page view not handed off")
	}
}

// Close unloads the page and waits for the tracker's goroutines to finish.
func (t *Tracker) Close() error {
	t.Unload()
	_ = t.queue.Close()
	t.wg.Wait()
	return nil
}

func (t *Tracker) onTransition(tr Transition) {
	defer t.guard("navigation")

	t.mu.Lock()
	if t.unloaded {
		t.mu.Unlock()
		return
	}
	prev := t.page
	t.page = pageState{path: tr.To, title: t.env.Title(), start: tr.At}
	t.mu.Unlock()

	if !t.sending() {
		return
	}
	sessionID := t.touch(context.Background())
	if IsAdminPath(prev.path, t.cfg.AdminPrefix) {
		return
	}
	t.sendAsync(SessionEndpoint, pageViewBody{SessionID: sessionID, PageView: prev.view(tr.At)})
}

func (t *Tracker) ping(ctx context.Context) error {
	err := t.transport.Send(ctx, SessionEndpoint, heartbeatBody{SessionID: t.currentSessionID(), Heartbeat: true})
	if err == nil {
		t.touch(ctx)
	}
	return err
}

// touch slides the session window and adopts the id the store returns. A
// rotated session is announced to the collector before further bodies.
// Storage is reached without ctx's cancellation.
func (t *Tracker) touch(ctx context.Context) string {
	if ctx == nil {
		ctx = context.Background()
	}
	t.touchMu.Lock()
	defer t.touchMu.Unlock()

	id := t.sessions.SessionID(context.WithoutCancel(ctx))

	t.mu.Lock()
	prev := t.sessionID
	t.sessionID = id
	running := t.cancel != nil
	t.mu.Unlock()

	if prev != "" && prev != id {
		t.logger.Info().Str("previous_session_id", prev).Str("session_id", id).Msg("Session expired, rotated")
		if running && t.sending() {
			t.sendAsync(SessionEndpoint, BuildSession(id, t.env, t.device))
		}
	}
	return id
}

func (t *Tracker) sendRecord(ctx context.Context, record ErrorRecord) error {
	return t.transport.Send(ctx, ErrorEndpoint, errorBody{ErrorRecord: record, Level: "error"})
}

func (t *Tracker) acceptRecord(record ErrorRecord) error {
	if !t.sending() {
		return errTrackingOff
	}
	t.mu.Lock()
	unloaded := t.unloaded
	t.mu.Unlock()
	if unloaded {
		return errTrackingOff
	}
	return t.queue.Enqueue(record)
}

func (t *Tracker) describe(ctx context.Context) (string, ErrorMetadata) {
	t.mu.Lock()
	sessionID, userID := t.sessionID, t.userID
	t.mu.Unlock()

	return pageURL(t.env).String(), ErrorMetadata{
		UserAgent: t.env.UserAgent(),
		Referrer:  t.env.Referrer(),
		Browser:   t.device.Browser,
		OS:        t.device.OS,
		Device:    string(t.device.Type),
		SessionID: sessionID,
		UserID:    userID,
	}
}

func (t *Tracker) sending() bool {
	return t.cfg.Production && !t.disabled.Load() && !(t.cfg.IgnoreBots && t.device.Bot)
}

func (t *Tracker) currentSessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// sendAsync sends a body once in the background. Bodies go out one at a time
// in the order they were handed in. Failures are logged, never retried.
func (t *Tracker) sendAsync(endpoint string, payload any) {
	t.mu.Lock()
	if t.unloaded {
		t.mu.Unlock()
		return
	}
	base := t.ctx
	prev := t.lastSend
	done := make(chan struct{})
	t.lastSend = done
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer close(done)
		defer t.guard("send")

		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(base), t.cfg.RequestTimeout)
		defer cancel()
		if err := t.transport.Send(ctx, endpoint, payload); err != nil {
			t.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Telemetry send failed")
		}
	}()
}

func (t *Tracker) spawn(name string, fn func()) {
	t.mu.Lock()
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer t.guard(name)
		fn()
	}()
}

// guard discards a panic raised inside the telemetry layer.
func (t *Tracker) guard(op string) {
	if r := recover(); r != nil {
		t.logger.Warn().Str("op", op).Interface("panic", r).Msg("Telemetry fault discarded")
	}
}
