// Package config loads appointment-service settings from the environment and
// an optional .env file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	libconfig "github.com/clinicbook/clinicbook/libs/config"
	"github.com/clinicbook/clinicbook/libs/kafkax"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServiceName string
	Env         string
	Port        string
	GRPCPort    string

	Store       string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	Location           *time.Location
	BookingLockTimeout time.Duration
	ReminderOffsets    []int

	RedisURL           string
	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaConsumeTopics []string

	CORSOrigins        []string
	RateLimitPerMinute int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads the configuration. storeOverride, when non-empty, wins over
// STORE so the serve command's --store flag can pick the backend.
func Load(envFile, storeOverride string) (*Config, error) {
	src := libconfig.NewSource(envFile)
	cfg := &Config{
		ServiceName:  src.String("SERVICE_NAME", "appointment-service"),
		Env:          src.String("ENV", "development"),
		RedisURL:     src.String("REDIS_URL", ""),
		KafkaBrokers: kafkax.SplitBrokers(src.String("KAFKA_BROKERS", "")),
		KafkaGroupID: src.String("KAFKA_GROUP_ID", "appointment-service"),
		CORSOrigins:  src.List("CORS_ORIGINS", ""),
		OTelEnabled:  src.Bool("OTEL_ENABLED", false),
		OTelEndpoint: src.String("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
	cfg.OTelSampleRatio = src.Float("OTEL_SAMPLING_RATIO", 1)
	cfg.KafkaConsumeTopics = src.List("KAFKA_CONSUME_TOPICS", "")

	var err error
	if cfg.Port, err = src.Port("PORT", "8083"); err != nil {
		return nil, err
	}
	if cfg.GRPCPort, err = src.Port("GRPC_PORT", "9093"); err != nil {
		return nil, err
	}

	cfg.Store = strings.ToLower(src.String("STORE", StorePostgres))
	if storeOverride != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(storeOverride))
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL, err = src.RequiredString("DATABASE_URL"); err != nil {
			return nil, err
		}
	case StoreMemory:
		cfg.DatabaseURL = src.String("DATABASE_URL", "")
	default:
		return nil, fmt.Errorf("STORE must be %q or %q (got %q)", StorePostgres, StoreMemory, cfg.Store)
	}

	maxConns, err := src.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	minConns, err := src.Int("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, err
	}
	if minConns > maxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", minConns, maxConns)
	}
	cfg.DBMaxConns, cfg.DBMinConns = int32(maxConns), int32(minConns)

	tz := src.String("CLINIC_TIMEZONE", "Asia/Manila")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", tz, err)
	}

	if cfg.BookingLockTimeout, err = src.Milliseconds("BOOKING_LOCK_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.ReminderOffsets, err = parseMinutes(src.List("REMINDER_OFFSETS_MINUTES", "1440,60")); err != nil {
		return nil, fmt.Errorf("REMINDER_OFFSETS_MINUTES: %w", err)
	}

	if cfg.RateLimitPerMinute, err = src.Int("RATE_LIMIT_PER_MINUTE", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "local"
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseMinutes(parts []string) ([]int, error) {
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number of minutes", p)
		}
		out = append(out, n)
	}
	return out, nil
}
