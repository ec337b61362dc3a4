// Package config loads herbtrace settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Environment string
	Log         LogConfig
	Storage     StorageConfig
	Blob        BlobConfig
	Kafka       KafkaConfig
	QR          QRConfig
	Audit       AuditConfig
	Compliance  ComplianceConfig
	LockTimeout time.Duration
	MetricsAddr string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// BlobConfig configures evidence attachment storage. An empty driver
// disables attachment resolution.
type BlobConfig struct {
	Driver      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// KafkaConfig configures the committed-event publisher. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// QRConfig configures QR code issuance.
type QRConfig struct {
	BaseURL             string
	Issuer              string
	TTL                 time.Duration
	AllowMultipleActive bool
	HistoryLimit        int
}

// AuditConfig configures the audit trail hashing mode.
type AuditConfig struct {
	HashChain bool
}

// ComplianceConfig configures compliance scoring.
type ComplianceConfig struct {
	Threshold float64
	RulesPath string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("HERBTRACE_ENV", "development"),
		Log: LogConfig{
			Level: getEnv("HERBTRACE_LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(getEnv("HERBTRACE_STORAGE_DRIVER", "memory")),
			SQLitePath:  getEnv("HERBTRACE_SQLITE_PATH", "herbtrace.db"),
			PostgresDSN: getEnv("HERBTRACE_POSTGRES_DSN", ""),
		},
		Blob: BlobConfig{
			Driver:      strings.ToLower(getEnv("HERBTRACE_BLOB_DRIVER", "")),
			S3Bucket:    getEnv("HERBTRACE_BLOB_S3_BUCKET", ""),
			S3Region:    getEnv("HERBTRACE_BLOB_S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("HERBTRACE_BLOB_S3_ENDPOINT", ""),
			S3PathStyle: getEnvAsBool("HERBTRACE_BLOB_S3_PATH_STYLE", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("HERBTRACE_KAFKA_BROKERS"),
			Topic:   getEnv("HERBTRACE_KAFKA_TOPIC", "herbtrace.events"),
		},
		QR: QRConfig{
			BaseURL:             strings.TrimRight(getEnv("HERBTRACE_QR_BASE_URL", "https://verify.herbtrace.local/qr"), "/"),
			Issuer:              getEnv("HERBTRACE_QR_ISSUER", "herbtrace"),
			TTL:                 getEnvAsDuration("HERBTRACE_QR_TTL", 0),
			AllowMultipleActive: getEnvAsBool("HERBTRACE_QR_ALLOW_MULTIPLE_ACTIVE", false),
			HistoryLimit:        getEnvAsInt("HERBTRACE_HISTORY_LIMIT", 10),
		},
		Audit: AuditConfig{
			HashChain: getEnvAsBool("HERBTRACE_AUDIT_HASH_CHAIN", false),
		},
		Compliance: ComplianceConfig{
			Threshold: getEnvAsFloat("HERBTRACE_COMPLIANCE_THRESHOLD", 80),
			RulesPath: getEnv("HERBTRACE_COMPLIANCE_RULES", ""),
		},
		LockTimeout: getEnvAsDuration("HERBTRACE_LOCK_TIMEOUT", 2*time.Second),
		MetricsAddr: getEnv("HERBTRACE_METRICS_ADDR", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot be wired.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("HERBTRACE_POSTGRES_DSN required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "", "memory":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("HERBTRACE_BLOB_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Compliance.Threshold < 0 || c.Compliance.Threshold > 100 {
		return fmt.Errorf("compliance threshold %.1f out of range [0,100]", c.Compliance.Threshold)
	}
	if c.QR.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
