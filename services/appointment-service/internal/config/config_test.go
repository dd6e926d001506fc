package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SERVICE_NAME", "ENV", "PORT", "GRPC_PORT", "STORE", "DATABASE_URL",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "CLINIC_TIMEZONE", "BOOKING_LOCK_TIMEOUT_MS",
		"REMINDER_OFFSETS_MINUTES", "RATE_LIMIT_PER_MINUTE", "KAFKA_BROKERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/clinic")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8083" || cfg.GRPCPort != "9093" {
		t.Fatalf("unexpected ports %s/%s", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Store != StorePostgres {
		t.Fatalf("expected postgres store, got %q", cfg.Store)
	}
	if cfg.Location.String() != "Asia/Manila" {
		t.Fatalf("unexpected location %s", cfg.Location)
	}
	if cfg.BookingLockTimeout != 5*time.Second {
		t.Fatalf("unexpected lock timeout %s", cfg.BookingLockTimeout)
	}
	if len(cfg.ReminderOffsets) != 2 || cfg.ReminderOffsets[0] != 1440 || cfg.ReminderOffsets[1] != 60 {
		t.Fatalf("unexpected reminder offsets %v", cfg.ReminderOffsets)
	}
	if cfg.KafkaEnabled() {
		t.Fatal("kafka should be disabled without brokers")
	}
}

func TestLoadRequiresDatabaseForPostgres(t *testing.T) {
	clearEnv(t)
	if _, err := Load("", ""); err == nil {
		t.Fatal("expected DATABASE_URL error")
	}
	cfg, err := Load("", "memory")
	if err != nil {
		t.Fatalf("memory store should not need a database: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("expected memory store, got %q", cfg.Store)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"STORE", "sqlite"},
		{"CLINIC_TIMEZONE", "Mars/Olympus"},
		{"BOOKING_LOCK_TIMEOUT_MS", "0"},
		{"REMINDER_OFFSETS_MINUTES", "1440,soon"},
		{"DB_MIN_CONNS", "50"},
		{"PORT", "0"},
		{"RATE_LIMIT_PER_MINUTE", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_URL", "postgres://localhost/clinic")
			t.Setenv(tc.key, tc.value)
			if _, err := Load("", ""); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}
