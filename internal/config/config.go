package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the session engine listens on.
	DefaultAddr = ":43127"

	// DefaultMaxPayloadBytes limits inbound frame size accepted from a client.
	DefaultMaxPayloadBytes int64 = 1 << 20

	// DefaultSweepInterval controls how often the match sweeper scans for stale matches.
	DefaultSweepInterval = 300 * time.Second
	// DefaultPlacementTTL bounds how long a match may remain in PLACEMENT before eviction.
	DefaultPlacementTTL = 600 * time.Second
	// DefaultBattleTTL bounds how long a match may remain in BATTLE before eviction.
	DefaultBattleTTL = 2100 * time.Second
	// DefaultSweepYieldBatch is how many eviction tasks run before the sweeper yields.
	DefaultSweepYieldBatch = 1000

	// DefaultHeartbeatInterval controls the ping cadence of the heartbeat subsystem.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHeartbeatTimeout bounds how long a connection may go without a pong before eviction.
	DefaultHeartbeatTimeout = 10 * time.Second
	// DefaultHeartbeatYieldBatch is how many connections are inspected before the clock yields.
	DefaultHeartbeatYieldBatch = 10000

	// DefaultReconnectTimeout bounds how long the engine waits for the turn player to
	// reconnect before taking a random shot on their behalf.
	DefaultReconnectTimeout = 8 * time.Second
	// DefaultChannelCapacity is the buffer size of the router's per-connection channels.
	DefaultChannelCapacity = 10
	// DefaultSalvoShots is the number of shots a SALVO-mode turn grants before swapping.
	DefaultSalvoShots = 3

	// DefaultBandwidthLimitBytesPerSecond caps outbound fan-out at 48 kbps (decimal) per connection.
	DefaultBandwidthLimitBytesPerSecond = 48000.0 / 8.0
	// DefaultReconnectRateLimit bounds reconnection attempts per player within the window.
	DefaultReconnectRateLimit = 5
	// DefaultReconnectRateWindow is the sliding window reconnection attempts are measured over.
	DefaultReconnectRateWindow = 10 * time.Second

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "battleships.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the session engine.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	TLSCertPath     string
	TLSKeyPath      string

	SweepInterval    time.Duration
	PlacementTTL     time.Duration
	BattleTTL        time.Duration
	SweepYieldBatch  int

	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	HeartbeatYieldBatch  int

	ReconnectTimeout   time.Duration
	ChannelCapacity    int
	SalvoShots         int

	BandwidthLimitBytesPerSecond float64
	ReconnectRateLimit           int
	ReconnectRateWindow          time.Duration

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the session engine configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("BATTLESHIPS_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("BATTLESHIPS_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		TLSCertPath:     strings.TrimSpace(os.Getenv("BATTLESHIPS_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("BATTLESHIPS_TLS_KEY")),

		SweepInterval:   DefaultSweepInterval,
		PlacementTTL:    DefaultPlacementTTL,
		BattleTTL:       DefaultBattleTTL,
		SweepYieldBatch: DefaultSweepYieldBatch,

		HeartbeatInterval:   DefaultHeartbeatInterval,
		HeartbeatTimeout:    DefaultHeartbeatTimeout,
		HeartbeatYieldBatch: DefaultHeartbeatYieldBatch,

		ReconnectTimeout: DefaultReconnectTimeout,
		ChannelCapacity:  DefaultChannelCapacity,
		SalvoShots:       DefaultSalvoShots,

		BandwidthLimitBytesPerSecond: DefaultBandwidthLimitBytesPerSecond,
		ReconnectRateLimit:           DefaultReconnectRateLimit,
		ReconnectRateWindow:          DefaultReconnectRateWindow,

		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("BATTLESHIPS_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("BATTLESHIPS_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("BATTLESHIPS_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BATTLESHIPS_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	parseDuration := func(key string, dst *time.Duration, positive bool) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		duration, err := time.ParseDuration(raw)
		if err != nil || (positive && duration <= 0) {
			problems = append(problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
			return
		}
		*dst = duration
	}
	parseDuration("BATTLESHIPS_SWEEP_INTERVAL", &cfg.SweepInterval, true)
	parseDuration("BATTLESHIPS_PLACEMENT_TTL", &cfg.PlacementTTL, true)
	parseDuration("BATTLESHIPS_BATTLE_TTL", &cfg.BattleTTL, true)
	parseDuration("BATTLESHIPS_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval, true)
	parseDuration("BATTLESHIPS_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout, true)
	parseDuration("BATTLESHIPS_RECONNECT_TIMEOUT", &cfg.ReconnectTimeout, true)
	parseDuration("BATTLESHIPS_RECONNECT_RATE_WINDOW", &cfg.ReconnectRateWindow, true)

	parseInt := func(key string, dst *int, nonNegative bool) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil || (nonNegative && value < 0) || (!nonNegative && value <= 0) {
			problems = append(problems, fmt.Sprintf("%s must be a %s integer, got %q", key, boundsWord(nonNegative), raw))
			return
		}
		*dst = value
	}
	parseInt("BATTLESHIPS_SWEEP_YIELD_BATCH", &cfg.SweepYieldBatch, false)
	parseInt("BATTLESHIPS_HEARTBEAT_YIELD_BATCH", &cfg.HeartbeatYieldBatch, false)
	parseInt("BATTLESHIPS_CHANNEL_CAPACITY", &cfg.ChannelCapacity, false)
	parseInt("BATTLESHIPS_SALVO_SHOTS", &cfg.SalvoShots, false)
	parseInt("BATTLESHIPS_RECONNECT_RATE_LIMIT", &cfg.ReconnectRateLimit, false)
	parseInt("BATTLESHIPS_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB, false)
	parseInt("BATTLESHIPS_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups, true)
	parseInt("BATTLESHIPS_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays, true)

	if raw := strings.TrimSpace(os.Getenv("BATTLESHIPS_BANDWIDTH_LIMIT_BPS")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BATTLESHIPS_BANDWIDTH_LIMIT_BPS must be a positive number, got %q", raw))
		} else {
			cfg.BandwidthLimitBytesPerSecond = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BATTLESHIPS_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("BATTLESHIPS_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "BATTLESHIPS_TLS_CERT and BATTLESHIPS_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func boundsWord(nonNegative bool) string {
	if nonNegative {
		return "non-negative"
	}
	return "positive"
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
