// session.go owns the visit session identity and its sliding expiry.

package pulse

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/farmared/pulse/pkg/logger"
)

// Storage keys for the persisted session. Both values are plain strings.
const (
	SessionIDKey        = "pulse_session_id"
	SessionTimestampKey = "pulse_session_timestamp"
)

// DefaultSessionTTL is the inactivity window after which a new session is minted.
const DefaultSessionTTL = 30 * time.Minute

// utmKeys are the recognized campaign-attribution query keys.
var utmKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// SessionStore creates and reuses session ids persisted in a Storage.
// Every lookup refreshes the stored timestamp, so activity keeps a session alive.
type SessionStore struct {
	storage Storage
	clock   clock.PassiveClock
	ttl     time.Duration
	logger  logger.Logger

	mu        sync.Mutex
	pageScope string // set once storage has failed; never persisted
}

// NewSessionStore creates a SessionStore. A non-positive ttl uses DefaultSessionTTL.
func NewSessionStore(storage Storage, clk clock.PassiveClock, ttl time.Duration, log logger.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewTestLogger()
	}
	return &SessionStore{
		storage: storage,
		clock:   clk,
		ttl:     ttl,
		logger:  log,
	}
}

// SessionID returns the current session id, minting a new one when the stored
// one is missing or older than the TTL. If storage fails, a page-scoped id is
// returned for the rest of this store's lifetime.
func (s *SessionStore) SessionID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pageScope != "" {
		return s.pageScope
	}

	now := s.clock.Now()
	id, err := s.refresh(ctx, now)
	if err != nil {
		s.pageScope = newSessionID(now)
		s.logger.Warn().Err(err).Str("session_id", s.pageScope).
			Msg("Session storage unavailable, using page-scoped session")
		return s.pageScope
	}
	return id
}

func (s *SessionStore) refresh(ctx context.Context, now time.Time) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("no session storage configured")
	}

	id, hasID, err := s.storage.Get(ctx, SessionIDKey)
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	stamp, hasStamp, err := s.storage.Get(ctx, SessionTimestampKey)
	if err != nil {
		return "", fmt.Errorf("read session timestamp: %w", err)
	}

	if !hasID || id == "" || !hasStamp || !s.fresh(stamp, now) {
		id = newSessionID(now)
		if err := s.storage.Set(ctx, SessionIDKey, id); err != nil {
			return "", fmt.Errorf("write session id: %w", err)
		}
	}

	if err := s.storage.Set(ctx, SessionTimestampKey, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return "", fmt.Errorf("write session timestamp: %w", err)
	}
	return id, nil
}

func (s *SessionStore) fresh(stamp string, now time.Time) bool {
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return false
	}
	return now.Sub(time.UnixMilli(ms)) < s.ttl
}

// newSessionID returns a time-prefixed id with a random suffix.
func newSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "sess_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + suffix
}

// BuildSession assembles the session init body for the current page load.
func BuildSession(sessionID string, env Environment, device Device) Session {
	page := pageURL(env)
	return Session{
		SessionID:   sessionID,
		LandingPage: page.RequestURI(),
		Referrer:    env.Referrer(),
		UTMParams:   ExtractUTM(page),
		Device:      device,
		Location: Locale{
			Timezone: env.Timezone(),
			Language: env.Language(),
		},
		Screen: env.Screen(),
	}
}

// ExtractUTM returns the recognized campaign parameters present in u's query.
func ExtractUTM(u *url.URL) map[string]string {
	params := make(map[string]string)
	if u == nil {
		return params
	}
	q := u.Query()
	for _, key := range utmKeys {
		if v := q.Get(key); v != "" {
			params[key] = v
		}
	}
	return params
}
