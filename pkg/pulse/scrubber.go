// scrubber.go implements fail-closed redaction of error records before they
// leave the page.

package pulse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// SensitiveKeys are extra case-insensitive substrings marking data keys
	// whose values are always redacted.
	SensitiveKeys []string

	// MaxMessageSize is the maximum length for messages (default: 4096).
	MaxMessageSize int

	// MaxStackSize is the maximum length for stacks (default: 16384).
	MaxStackSize int

	// MaxDataSize is the maximum serialized size of Data (default: 16384).
	MaxDataSize int

	// ScrubMessages enables secret/PII patterns on message and string data.
	ScrubMessages bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize: 4096,
		MaxStackSize:   16384,
		MaxDataSize:    16384,
		ScrubMessages:  true,
	}
}

const (
	redacted      = "[REDACTED]"
	redactedError = "[REDACTED:SCRUB_ERROR]"
	redactedSize  = "[REDACTED:SIZE_LIMIT]"
)

var messageScrubPatterns = []*regexp.Regexp{
	// Tokens in query strings and headers
	regexp.MustCompile(`(?i)(api[_-]?key|access_token|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), // JWT

	// Credentials
	regexp.MustCompile(`(?i)(password|passwd|secret)[=:\s]+['"]?[^\s'",&]+['"]?`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), // Email
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),         // Card number
	regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),                   // CPF
}

var sensitiveKeyPatterns = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"credential",
	"auth",
	"cpf",
	"card",
}

// Scrubber redacts sensitive data from error records.
type Scrubber struct {
	cfg  ScrubberConfig
	keys []string
}

// NewScrubber creates a scrubber. Zero size limits take their defaults.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	def := DefaultScrubberConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxStackSize <= 0 {
		cfg.MaxStackSize = def.MaxStackSize
	}
	if cfg.MaxDataSize <= 0 {
		cfg.MaxDataSize = def.MaxDataSize
	}
	keys := append([]string{}, sensitiveKeyPatterns...)
	for _, k := range cfg.SensitiveKeys {
		keys = append(keys, strings.ToLower(k))
	}
	return &Scrubber{cfg: cfg, keys: keys}
}

// ScrubRecord returns a copy of record with message, stack and data scrubbed.
// Metadata is left alone: it holds only facts the collector needs verbatim.
func (s *Scrubber) ScrubRecord(record ErrorRecord) ErrorRecord {
	record.Message = s.ScrubMessage(record.Message)
	record.Stack = s.ScrubStack(record.Stack)
	record.Data = s.ScrubData(record.Data)
	return record
}

// ScrubMessage truncates msg and redacts secret and PII patterns.
func (s *Scrubber) ScrubMessage(msg string) string {
	msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	if !s.cfg.ScrubMessages {
		return msg
	}
	for _, pattern := range messageScrubPatterns {
		msg = pattern.ReplaceAllString(msg, redacted)
	}
	return msg
}

// ScrubStack redacts query-string secrets in script URLs and limits size.
func (s *Scrubber) ScrubStack(stack string) string {
	if stack == "" {
		return stack
	}
	if s.cfg.ScrubMessages {
		for _, pattern := range messageScrubPatterns {
			stack = pattern.ReplaceAllString(stack, redacted)
		}
	}
	return truncateWithMarker(stack, s.cfg.MaxStackSize)
}

// ScrubData redacts sensitive keys and string values. Data that cannot be
// represented as JSON is fully redacted.
func (s *Scrubber) ScrubData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]any{"scrubbed": redactedError}
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return map[string]any{"scrubbed": redactedError}
	}

	scrubbed := s.scrubMap(generic)

	out, err := json.Marshal(scrubbed)
	if err != nil {
		return map[string]any{"scrubbed": redactedError}
	}
	if len(out) > s.cfg.MaxDataSize {
		return map[string]any{"scrubbed": redactedSize}
	}
	return scrubbed
}

func (s *Scrubber) scrubValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return s.scrubMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.scrubValue(item)
		}
		return out
	case string:
		return s.ScrubMessage(v)
	default:
		return v
	}
}

func (s *Scrubber) scrubMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if s.isSensitiveKey(key) {
			out[key] = redacted
			continue
		}
		out[key] = s.scrubValue(value)
	}
	return out
}

func (s *Scrubber) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range s.keys {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	marker := "...[TRUNCATED]"
	if maxLen <= len(marker) {
		return marker[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}
