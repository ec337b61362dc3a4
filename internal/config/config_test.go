package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Environment != "development" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LockTimeout != 2*time.Second || cfg.QR.HistoryLimit != 10 || cfg.Compliance.Threshold != 80 {
		t.Fatalf("unexpected numeric defaults %+v", cfg)
	}
	if cfg.Audit.HashChain || cfg.QR.AllowMultipleActive || len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("expected opt-in features disabled: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HERBTRACE_STORAGE_DRIVER", "SQLite")
	t.Setenv("HERBTRACE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("HERBTRACE_AUDIT_HASH_CHAIN", "true")
	t.Setenv("HERBTRACE_LOCK_TIMEOUT", "750ms")
	t.Setenv("HERBTRACE_COMPLIANCE_THRESHOLD", "72.5")
	t.Setenv("HERBTRACE_QR_BASE_URL", "https://verify.example/qr/")
	t.Setenv("HERBTRACE_HISTORY_LIMIT", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("expected lower-cased driver, got %q", cfg.Storage.Driver)
	}
	if strings.Join(cfg.Kafka.Brokers, "|") != "k1:9092|k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if !cfg.Audit.HashChain || cfg.LockTimeout != 750*time.Millisecond || cfg.Compliance.Threshold != 72.5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.QR.BaseURL != "https://verify.example/qr" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.QR.BaseURL)
	}
	if cfg.QR.HistoryLimit != 10 {
		t.Fatalf("malformed ints fall back to default, got %d", cfg.QR.HistoryLimit)
	}
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	base := func() Config {
		return Config{
			Storage:     StorageConfig{Driver: "memory"},
			QR:          QRConfig{HistoryLimit: 10},
			Compliance:  ComplianceConfig{Threshold: 80},
			LockTimeout: time.Second,
		}
	}
	cases := map[string]func(*Config){
		"postgres without dsn": func(c *Config) { c.Storage.Driver = "postgres" },
		"unknown storage":      func(c *Config) { c.Storage.Driver = "bolt" },
		"s3 without bucket":    func(c *Config) { c.Blob.Driver = "s3" },
		"unknown blob":         func(c *Config) { c.Blob.Driver = "ftp" },
		"threshold range":      func(c *Config) { c.Compliance.Threshold = 120 },
		"zero lock timeout":    func(c *Config) { c.LockTimeout = 0 },
		"zero history limit":   func(c *Config) { c.QR.HistoryLimit = 0 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected base config valid: %v", err)
	}
}
