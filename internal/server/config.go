// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the multiplexer.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/wsmux/internal/logging"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings.
type Config struct {
	ListenAddr        string          `yaml:"listen_addr"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	MaxMessageSize    int64           `yaml:"max_message_size"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	SendQueueLimit    int             `yaml:"send_queue_limit"`
	InboundQueueLimit int             `yaml:"inbound_queue_limit"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	CloseGracePeriod  time.Duration   `yaml:"close_grace_period"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	TickInterval      time.Duration   `yaml:"tick_interval"`
	Log               logging.Config  `yaml:"log"`
}

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultMaxMessageSize    = 64 * 1024
	defaultBurst             = 50
	defaultRefillInterval    = time.Second
	defaultSendQueueLimit    = 1024
	defaultInboundQueueLimit = 65536
	defaultWriteTimeout      = 10 * time.Second
	defaultCloseGracePeriod  = time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultTickInterval      = 16 * time.Millisecond
)

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://127.0.0.1:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendQueueLimit:    defaultSendQueueLimit,
		InboundQueueLimit: defaultInboundQueueLimit,
		WriteTimeout:      defaultWriteTimeout,
		CloseGracePeriod:  defaultCloseGracePeriod,
		ShutdownTimeout:   defaultShutdownTimeout,
		TickInterval:      defaultTickInterval,
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// sanitize replaces unset or out-of-range values with defaults. Queue limits
// keep zero, which means unbounded.
func (c Config) sanitize() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}
	if c.SendQueueLimit < 0 {
		c.SendQueueLimit = defaultSendQueueLimit
	}
	if c.InboundQueueLimit < 0 {
		c.InboundQueueLimit = defaultInboundQueueLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.CloseGracePeriod < 0 {
		c.CloseGracePeriod = defaultCloseGracePeriod
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Validate reports configuration values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML config file, expands ${VAR} references, applies
// environment overrides and defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	cfg = ApplyEnv(cfg).sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any WSMUX_* environment variables that are set.
// Unparseable values are ignored.
func ApplyEnv(cfg Config) Config {
	if addr := os.Getenv("WSMUX_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if origins := os.Getenv("WSMUX_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("WSMUX_MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("WSMUX_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("WSMUX_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if limit := os.Getenv("WSMUX_SEND_QUEUE_LIMIT"); limit != "" {
		cfg.SendQueueLimit = parseLimitValue(limit, cfg.SendQueueLimit)
	}

	if grace := os.Getenv("WSMUX_CLOSE_GRACE_PERIOD"); grace != "" {
		cfg.CloseGracePeriod = parseGracePeriod(grace, cfg.CloseGracePeriod)
	}

	if level := os.Getenv("WSMUX_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("WSMUX_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseLimitValue is parseIntValue for queue limits, where zero means
// unbounded.
func parseLimitValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseGracePeriod is parseDuration that also accepts zero.
func parseGracePeriod(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("250ms") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
