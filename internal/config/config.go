package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int32
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // Dead letter topic for exhausted deliveries
	PublishDLQ  bool   // Whether to publish exhausted deliveries to DLQTopic
}

type Archive struct {
	Postgres bool   // Whether to insert exhausted deliveries into Postgres
	Table    string // Archive table name
}

type Dispatcher struct {
	Workers         int             // Concurrent delivery workers
	HighCapacity    int             // High queue capacity
	LowCapacity     int             // Low queue capacity
	RetryCount      int             // Attempts per (request, target) pair
	BackoffSchedule []time.Duration // Wait before each requeue
	JitterPercent   float64         // Backoff jitter percentage (0.0-1.0)
	EnqueueTimeout  time.Duration   // How long ingest waits on a full queue, 0 fails fast
	DeliveryTimeout time.Duration   // Per-attempt HTTP timeout
	FlushSchedule   string          // Optional cron spec for the low priority flush
}

type Ingest struct {
	TargetsHeader string // Header carrying the JSON list of targets
	MaxBodyBytes  int64  // Largest accepted request body
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

type Auth struct {
	FlushPublicKeyPEM string // RSA public key; empty leaves the flush route open
	Issuer            string
	Audience          string
}

type Tracing struct {
	Enabled     bool
	Endpoint    string  // OTLP/HTTP collector, empty uses OTEL_EXPORTER_OTLP_ENDPOINT
	SampleRatio float64 // 0 or 1 samples every trace
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	FailStatus      int           // Status returned for failed requests
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	GRPCPort     string // :50051
	Dispatcher   Dispatcher
	Ingest       Ingest
	Auth         Auth
	Tracing      Tracing
	DB           DB
	Archive      Archive
	NSQ          NSQ
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoff() []time.Duration {
	return []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}
}

// parseBackoffSchedule reads a comma separated list of durations. "0" is a
// valid entry and means requeue immediately.
func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoff()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil && d >= 0 {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoff()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "harborfanout"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		GRPCPort: getenv("GRPC_PORT", ":50051"),
		Dispatcher: Dispatcher{
			Workers:         getenvInt("DISPATCH_WORKERS", 16),
			HighCapacity:    getenvInt("HIGH_QUEUE_CAPACITY", 10000),
			LowCapacity:     getenvInt("LOW_QUEUE_CAPACITY", 10000),
			RetryCount:      getenvInt("RETRY_COUNT", 3),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			EnqueueTimeout:  getenvDuration("ENQUEUE_TIMEOUT", 0),
			DeliveryTimeout: getenvDuration("DELIVERY_TIMEOUT", 15*time.Second),
			FlushSchedule:   getenv("FLUSH_LOW_PRIORITY_CRON", ""),
		},
		Ingest: Ingest{
			TargetsHeader: getenv("TARGETS_HEADER", "X-Duplicate-Targets"),
			MaxBodyBytes:  getenvInt64("MAX_BODY_BYTES", 10<<20),
			ReadTimeout:   getenvDuration("INGEST_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:  getenvDuration("INGEST_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:   getenvDuration("INGEST_IDLE_TIMEOUT", 120*time.Second),
		},
		Auth: Auth{
			FlushPublicKeyPEM: getenv("FLUSH_JWT_PUBLIC_KEY", ""),
			Issuer:            getenv("FLUSH_JWT_ISSUER", "harborfanout"),
			Audience:          getenv("FLUSH_JWT_AUDIENCE", "harborfanout-admin"),
		},
		Tracing: Tracing{
			Enabled:     getenvBool("TRACING_ENABLED", true),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: getenvFloat("TRACING_SAMPLE_RATIO", 1),
		},
		DB: DB{
			User:     getenv("DB_USER", "postgres"),
			Pass:     getenv("DB_PASS", "postgres"),
			Host:     getenv("DB_HOST", "postgres"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "harborfanout"),
			MaxConns: int32(getenvInt("DB_MAX_CONNS", 10)),
		},
		Archive: Archive{
			Postgres: getenvBool("ARCHIVE_DLQ_POSTGRES", false),
			Table:    getenv("ARCHIVE_DLQ_TABLE", "dead_letters"),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			PublishDLQ:  getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			FailStatus:      getenvInt("FAIL_STATUS", 500),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// RetryBudget returns the configured attempts per target, never below one.
func (c Config) RetryBudget() int {
	if c.Dispatcher.RetryCount < 1 {
		return 1
	}
	return c.Dispatcher.RetryCount
}
