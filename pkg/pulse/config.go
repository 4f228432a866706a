// config.go loads tracker settings from YAML.

package pulse

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/farmared/pulse/pkg/logger"
)

// Config holds every tracker setting.
type Config struct {
	// Endpoint is the collector base URL, e.g. https://site.example. Only
	// transports built from the config read it.
	Endpoint string `yaml:"endpoint"`

	// Production enables sending. Development sessions are never sent.
	Production bool `yaml:"production"`

	// IgnoreBots disables tracking for crawler user agents.
	IgnoreBots bool `yaml:"ignore_bots"`

	// AdminPrefix marks paths excluded from page-view telemetry.
	AdminPrefix string `yaml:"admin_prefix"`

	SessionTTL        time.Duration `yaml:"session_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatPause    time.Duration `yaml:"heartbeat_pause"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	DrainInterval     time.Duration `yaml:"drain_interval"`
	DrainDelay        time.Duration `yaml:"drain_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	QueueSize         int           `yaml:"queue_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	Logging logger.Config `yaml:"logging"`
}

// DefaultConfig returns development-mode defaults.
func DefaultConfig() Config {
	hb := DefaultHeartbeatConfig()
	return Config{
		AdminPrefix:       DefaultAdminPrefix,
		SessionTTL:        DefaultSessionTTL,
		HeartbeatInterval: hb.Interval,
		HeartbeatPause:    hb.PauseDelay,
		FailureThreshold:  hb.FailureThreshold,
		PollInterval:      DefaultPollInterval,
		DrainInterval:     2 * time.Second,
		DrainDelay:        100 * time.Millisecond,
		MaxAttempts:       3,
		QueueSize:         100,
		RequestTimeout:    10 * time.Second,
		Logging:           logger.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file over the defaults. Environment variables in
// the file are expanded first.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable zero value.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint %q must be an absolute URL", c.Endpoint))
		}
	}
	durations := map[string]time.Duration{
		"session_ttl":        c.SessionTTL,
		"heartbeat_interval": c.HeartbeatInterval,
		"heartbeat_pause":    c.HeartbeatPause,
		"poll_interval":      c.PollInterval,
		"drain_interval":     c.DrainInterval,
		"request_timeout":    c.RequestTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.DrainDelay < 0 {
		errs = append(errs, errors.New("drain_delay must not be negative"))
	}
	if c.FailureThreshold <= 0 {
		errs = append(errs, errors.New("failure_threshold must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max_attempts must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
