// event.go defines the records pulse sends to the collector.

package pulse

import "time"

// DeviceType classifies the visiting device.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// Unknown is reported for browser and OS facts that could not be detected.
const Unknown = "Unknown"

// Device describes the visitor's device, browser and OS.
type Device struct {
	Type           DeviceType `json:"type"`
	Browser        string     `json:"browser"`
	BrowserVersion string     `json:"browserVersion"`
	OS             string     `json:"os"`
	OSVersion      string     `json:"osVersion"`

	// Bot is true for crawler user agents. Never sent.
	Bot bool `json:"-"`
}

// Locale is the locale-derived location of the visitor. No geolocation.
type Locale struct {
	Timezone string `json:"timezone"`
	Language string `json:"language"`
}

// Screen holds the visitor's screen facts.
type Screen struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	ColorDepth int `json:"colorDepth"`
}

// Session identifies one visit. Only SessionID survives reloads; the other
// fields are recomputed on every page load.
type Session struct {
	SessionID   string            `json:"sessionId"`
	LandingPage string            `json:"landingPage"`
	Referrer    string            `json:"referrer"`
	UTMParams   map[string]string `json:"utmParams"`
	Device      Device            `json:"device"`
	Location    Locale            `json:"location"`
	Screen      Screen            `json:"screen"`
}

// PageView is one interval of attention on one path. TimeSpent is in seconds
// and is known only when the next transition or the unload happens.
type PageView struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	TimeSpent int       `json:"timeSpent"`
}

// CustomEvent is an application-defined engagement event.
type CustomEvent struct {
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Label     string    `json:"label,omitempty"`
	Value     *float64  `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMetadata is the visitor context attached to every ErrorRecord.
type ErrorMetadata struct {
	UserAgent string `json:"userAgent"`
	Referrer  string `json:"referrer"`
	Browser   string `json:"browser"`
	OS        string `json:"os"`
	Device    string `json:"device"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// ErrorRecord is one captured failure.
type ErrorRecord struct {
	Message  string         `json:"message"`
	Stack    string         `json:"stack,omitempty"`
	Module   string         `json:"module"`
	URL      string         `json:"url"`
	Metadata ErrorMetadata  `json:"metadata"`
	Data     map[string]any `json:"data,omitempty"`
}

// Wire bodies for the collector endpoints.

type heartbeatBody struct {
	SessionID string `json:"sessionId"`
	Heartbeat bool   `json:"heartbeat"`
}

type pageViewBody struct {
	SessionID  string   `json:"sessionId"`
	PageView   PageView `json:"pageView"`
	EndSession bool     `json:"endSession,omitempty"`
}

type eventBody struct {
	SessionID string      `json:"sessionId"`
	Event     CustomEvent `json:"event"`
}

type errorBody struct {
	ErrorRecord
	Level string `json:"level"`
}

// Kinded is implemented by every body pulse sends, for transports that log
// bodies rather than post them.
type Kinded interface {
	Kind() string
}

func (Session) Kind() string       { return "session" }
func (heartbeatBody) Kind() string { return "heartbeat" }
func (eventBody) Kind() string     { return "event" }
func (errorBody) Kind() string     { return "error" }

func (b pageViewBody) Kind() string {
	if b.EndSession {
		return "page_view_final"
	}
	return "page_view"
}
