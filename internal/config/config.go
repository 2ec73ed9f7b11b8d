package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHTTPAddr is the default TCP address the REST/WebSocket adapter listens on.
	DefaultHTTPAddr = ":3000"
	// DefaultGRPCAddr is the default TCP address the gRPC adapter listens on.
	DefaultGRPCAddr = ":50051"

	// DefaultOrderQueueSize bounds the Order Queue capacity.
	DefaultOrderQueueSize = 1024
	// DefaultEventBufferSize bounds each Event Bus subscriber's ring capacity.
	DefaultEventBufferSize = 1024

	// DefaultMaxAttempts caps Engine re-queue attempts before an order is marked Failed.
	DefaultMaxAttempts = 20
	// DefaultBackoffBase is the Engine's exponential re-queue backoff base.
	DefaultBackoffBase = 100 * time.Millisecond
	// DefaultBackoffCap ceilings the Engine's exponential re-queue backoff.
	DefaultBackoffCap = 5 * time.Second

	// DefaultEnqueueDeadline bounds how long the REST adapter waits on a full Order Queue
	// before failing fast with a 503.
	DefaultEnqueueDeadline = 250 * time.Millisecond

	// DefaultDrainDeadline bounds how long shutdown waits for the Engine to
	// drain the closed Order Queue before giving up and leaving the rest
	// Pending for the next process to never see (state is in-memory only).
	DefaultDrainDeadline = 2 * time.Second

	// DefaultLogLevel controls verbosity for structured logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "dispatch.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
	// DefaultLogRotateInterval forces a rotation once a log file has been open this long,
	// even if it never reaches LOG_MAX_SIZE_MB — keeps a slow trickle of courier/order
	// traffic from pinning a single file open indefinitely.
	DefaultLogRotateInterval = 24 * time.Hour
)

// GRPCAuthMode enumerates supported transport-security postures for the gRPC adapter.
type GRPCAuthMode string

const (
	// GRPCAuthModeNone disables transport authentication; suitable for local development only.
	GRPCAuthModeNone GRPCAuthMode = "none"
	// GRPCAuthModeSharedSecret requires a bearer shared secret on streaming RPCs
	// (SubscribeEvents); unary RPCs are not checked.
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared-secret"
	// GRPCAuthModeMTLS requires mutually authenticated TLS connections.
	GRPCAuthModeMTLS GRPCAuthMode = "mtls"
)

// Config captures all runtime tunables for the dispatch service.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	AllowedOrigins  []string
	AdminToken      string
	EnqueueDeadline time.Duration
	DrainDeadline   time.Duration

	OrderQueueSize  int
	EventBufferSize int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration

	GRPCAuthMode       GRPCAuthMode
	GRPCSharedSecret   string
	GRPCServerCertPath string
	GRPCServerKeyPath  string
	GRPCClientCAPath   string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level          string
	Path           string
	MaxSizeMB      int
	MaxBackups     int
	MaxAgeDays     int
	Compress       bool
	RotateInterval time.Duration
}

// Load reads the dispatch service configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		AllowedOrigins:  parseList(os.Getenv("ALLOWED_ORIGINS")),
		AdminToken:      strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		EnqueueDeadline: DefaultEnqueueDeadline,
		DrainDeadline:   DefaultDrainDeadline,

		OrderQueueSize:  DefaultOrderQueueSize,
		EventBufferSize: DefaultEventBufferSize,
		MaxAttempts:     DefaultMaxAttempts,
		BackoffBase:     DefaultBackoffBase,
		BackoffCap:      DefaultBackoffCap,

		GRPCAuthMode:       GRPCAuthMode(getString("GRPC_AUTH_MODE", string(GRPCAuthModeNone))),
		GRPCSharedSecret:   strings.TrimSpace(os.Getenv("GRPC_SHARED_SECRET")),
		GRPCServerCertPath: strings.TrimSpace(os.Getenv("GRPC_SERVER_CERT")),
		GRPCServerKeyPath:  strings.TrimSpace(os.Getenv("GRPC_SERVER_KEY")),
		GRPCClientCAPath:   strings.TrimSpace(os.Getenv("GRPC_CLIENT_CA")),

		Logging: LoggingConfig{
			Level:          strings.TrimSpace(getString("LOG_LEVEL", DefaultLogLevel)),
			Path:           strings.TrimSpace(getString("LOG_PATH", DefaultLogPath)),
			MaxSizeMB:      DefaultLogMaxSizeMB,
			MaxBackups:     DefaultLogMaxBackups,
			MaxAgeDays:     DefaultLogMaxAgeDays,
			Compress:       DefaultLogCompress,
			RotateInterval: DefaultLogRotateInterval,
		},
	}

	var problems []string

	cfg.HTTPAddr = DefaultHTTPAddr
	if raw := strings.TrimSpace(os.Getenv("HTTP_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			problems = append(problems, fmt.Sprintf("HTTP_PORT must be a valid port number, got %q", raw))
		} else {
			cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		}
	}

	cfg.GRPCAddr = DefaultGRPCAddr
	if raw := strings.TrimSpace(os.Getenv("GRPC_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			problems = append(problems, fmt.Sprintf("GRPC_PORT must be a valid port number, got %q", raw))
		} else {
			cfg.GRPCAddr = fmt.Sprintf(":%d", port)
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ORDER_QUEUE_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ORDER_QUEUE_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.OrderQueueSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("EVENT_BUFFER_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("EVENT_BUFFER_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.EventBufferSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAX_ATTEMPTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("MAX_ATTEMPTS must be a positive integer, got %q", raw))
		} else {
			cfg.MaxAttempts = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BACKOFF_BASE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BACKOFF_BASE must be a positive duration, got %q", raw))
		} else {
			cfg.BackoffBase = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BACKOFF_CAP")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BACKOFF_CAP must be a positive duration, got %q", raw))
		} else {
			cfg.BackoffCap = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENQUEUE_DEADLINE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ENQUEUE_DEADLINE must be a positive duration, got %q", raw))
		} else {
			cfg.EnqueueDeadline = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRAIN_DEADLINE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DRAIN_DEADLINE must be a positive duration, got %q", raw))
		} else {
			cfg.DrainDeadline = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_ROTATE_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("LOG_ROTATE_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.Logging.RotateInterval = duration
		}
	}

	switch cfg.GRPCAuthMode {
	case GRPCAuthModeNone, GRPCAuthModeSharedSecret, GRPCAuthModeMTLS:
	default:
		problems = append(problems, fmt.Sprintf("GRPC_AUTH_MODE must be one of none|shared-secret|mtls, got %q", cfg.GRPCAuthMode))
	}
	if cfg.GRPCAuthMode == GRPCAuthModeSharedSecret && cfg.GRPCSharedSecret == "" {
		problems = append(problems, "GRPC_SHARED_SECRET must be set when GRPC_AUTH_MODE=shared-secret")
	}
	if cfg.GRPCAuthMode == GRPCAuthModeMTLS && (cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "") {
		problems = append(problems, "GRPC_SERVER_CERT, GRPC_SERVER_KEY and GRPC_CLIENT_CA must be set when GRPC_AUTH_MODE=mtls")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
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
