package main

import (
	"context"
	"errors"
	"fmt"

	"herbtrace/internal/blob"
	"herbtrace/internal/compliance"
	"herbtrace/internal/config"
	"herbtrace/internal/core"
	"herbtrace/internal/evidence"
	"herbtrace/internal/infra/messaging/kafka"
	"herbtrace/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the wired service and everything that must be closed with it.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	service  *core.Service
	evidence *evidence.Store
	closers  []func() error
}

var newLogger = logging.New

// newApp wires the service from cfg. On failure everything acquired so far is
// released and the logger is synced.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger, err := newLogger(cfg.Log.Level, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineOpts := []compliance.Option{compliance.WithThreshold(cfg.Compliance.Threshold)}
	if cfg.Compliance.RulesPath != "" {
		sets, err := compliance.LoadRuleSets(cfg.Compliance.RulesPath)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, compliance.WithRuleSets(sets...))
		logger.Info("compliance rule sets loaded", zap.String("path", cfg.Compliance.RulesPath), zap.Int("count", len(sets)))
	}

	store, closeStore, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetrics(core.NewPrometheusRecorder(a.registry)),
		core.WithComplianceEngine(compliance.NewEngine(engineOpts...)),
		core.WithLockTimeout(cfg.LockTimeout),
		core.WithHashChain(cfg.Audit.HashChain),
		core.WithHistoryLimit(cfg.QR.HistoryLimit),
		core.WithQRSettings(core.QRSettings{
			BaseURL:             cfg.QR.BaseURL,
			Issuer:              cfg.QR.Issuer,
			TTL:                 cfg.QR.TTL,
			AllowMultipleActive: cfg.QR.AllowMultipleActive,
		}),
	}

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		a.evidence = evidence.New(blobs)
		opts = append(opts, core.WithAttachmentResolver(a.evidence))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, publisher.Close)
		opts = append(opts, core.WithPublisher(publisher))
		logger.Info("event publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", publisher.Topic()))
	}

	a.service = core.NewService(store, opts...)
	logger.Debug("herbtrace wired",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.Bool("hash_chain", cfg.Audit.HashChain))
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
