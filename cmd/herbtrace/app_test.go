package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"herbtrace/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type syncCounter struct{ syncs atomic.Int32 }

func (s *syncCounter) Write(p []byte) (int, error) { return len(p), nil }

func (s *syncCounter) Sync() error {
	s.syncs.Add(1)
	return nil
}

func stubLogger(t *testing.T) *syncCounter {
	t.Helper()
	sink := &syncCounter{}
	prev := newLogger
	newLogger = func(string, string) (*zap.Logger, error) {
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		return zap.New(zapcore.NewCore(enc, sink, zapcore.DebugLevel)), nil
	}
	t.Cleanup(func() { newLogger = prev })
	return sink
}

func TestNewAppSyncsLoggerOnStartupFailure(t *testing.T) {
	cases := map[string]*config.Config{
		"missing rule file": {
			Storage:    config.StorageConfig{Driver: "memory"},
			Compliance: config.ComplianceConfig{Threshold: 80, RulesPath: filepath.Join(t.TempDir(), "absent.json")},
		},
		"unknown storage driver": {
			Storage:    config.StorageConfig{Driver: "cassandra"},
			Compliance: config.ComplianceConfig{Threshold: 80},
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			sink := stubLogger(t)
			a, err := newApp(context.Background(), cfg)
			if err == nil || a != nil {
				t.Fatalf("expected startup failure, got app=%v err=%v", a, err)
			}
			if sink.syncs.Load() == 0 {
				t.Fatalf("logger was not synced after failed startup")
			}
		})
	}
}

func TestNewAppCloseSyncsLogger(t *testing.T) {
	sink := stubLogger(t)
	a, err := newApp(context.Background(), &config.Config{
		Storage:    config.StorageConfig{Driver: "memory"},
		Compliance: config.ComplianceConfig{Threshold: 80},
	})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.syncs.Load() != 1 {
		t.Fatalf("expected one sync, got %d", sink.syncs.Load())
	}
}
