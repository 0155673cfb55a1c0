package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Server struct {
	Addr          string
	LogLevel      slog.Level
	JWTSigningKey string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	Workflow  WorkflowConfig
	Dispatch  DispatchConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
}

// RedisConfig holds connection settings for the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the domain-event audit mirror. Empty brokers
// disable publishing.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// WorkflowConfig bounds the transition coordinator.
type WorkflowConfig struct {
	LockTimeout      time.Duration
	MaxRetries       int
	SweepInterval    time.Duration
	DispatchDeadline time.Duration
}

// DispatchConfig bounds the async dispatch subsystem.
type DispatchConfig struct {
	QueueDepth int
	// WorkersPerClass caps concurrent consumers per queue class so a backlog
	// in one class cannot starve another.
	WorkersPerClass map[string]int
}

// RateLimitConfig bounds authenticated traffic per principal. A non-positive
// RequestsPerWindow disables the limiter.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// CacheConfig bounds the response cache layer.
type CacheConfig struct {
	DefaultTTL      time.Duration
	MaxBodyBytes    int
	CacheableRoutes []string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:          envOr("SMARTOP_ADDR", ":8080"),
		LogLevel:      parseLogLevel(os.Getenv("SMARTOP_LOG_LEVEL")),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "smartop.domain-events"),
		},
		Workflow: WorkflowConfig{
			LockTimeout:      envDurationOr("WORKFLOW_LOCK_TIMEOUT", 3*time.Second),
			MaxRetries:       envIntOr("WORKFLOW_MAX_RETRIES", 3),
			SweepInterval:    envDurationOr("WORKFLOW_SWEEP_INTERVAL", time.Minute),
			DispatchDeadline: envDurationOr("WORKFLOW_DISPATCH_DEADLINE", 2*time.Second),
		},
		Dispatch: DispatchConfig{
			QueueDepth: envIntOr("DISPATCH_QUEUE_DEPTH", 1024),
			WorkersPerClass: map[string]int{
				"critical":      envIntOr("DISPATCH_WORKERS_CRITICAL", 4),
				"notifications": envIntOr("DISPATCH_WORKERS_NOTIFICATIONS", 4),
				"reports":       envIntOr("DISPATCH_WORKERS_REPORTS", 2),
				"bulk":          envIntOr("DISPATCH_WORKERS_BULK", 1),
			},
		},
		Cache: CacheConfig{
			DefaultTTL:   envDurationOr("CACHE_DEFAULT_TTL", 5*time.Minute),
			MaxBodyBytes: envIntOr("CACHE_MAX_BODY_BYTES", 1<<20),
			CacheableRoutes: []string{
				"/machines",
				"/dashboard",
				"/control-lists",
				"/work-sessions",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: envIntOr("RATELIMIT_REQUESTS_PER_WINDOW", 120),
			Window:            envDurationOr("RATELIMIT_WINDOW", time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
