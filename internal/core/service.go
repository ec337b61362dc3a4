// Package core implements the herbtrace service: lots and plants, their
// append-only event history, the hash-sealed audit trail, QR verification and
// compliance scoring.
package core

import (
	"context"
	"time"

	"herbtrace/internal/audit"
	"herbtrace/internal/compliance"
	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/pkg/domain"

	"go.uber.org/zap"
)

const (
	// DefaultLockTimeout bounds the wait for an entity write lock.
	DefaultLockTimeout = 2 * time.Second
	// DefaultHistoryLimit is the number of history items returned by VerifyQR.
	DefaultHistoryLimit = 10
	// DefaultPageLimit and MaxPageLimit bound list pagination.
	DefaultPageLimit = 50
	MaxPageLimit     = 500

	// SystemOperator is recorded as the operator of events the service emits
	// on its own behalf.
	SystemOperator = "herbtrace/compliance"
)

// EventPublisher receives events after they are committed.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// AttachmentResolver confirms that an attachment key refers to stored evidence.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, key string) error
}

// QRSettings configures QR issuance.
type QRSettings struct {
	BaseURL             string
	Issuer              string
	TTL                 time.Duration
	AllowMultipleActive bool
}

// DefaultQRSettings returns the settings used when none are configured.
func DefaultQRSettings() QRSettings {
	return QRSettings{BaseURL: "https://verify.herbtrace.local/qr", Issuer: "herbtrace"}
}

// Service exposes the traceability operations over a persistent store.
type Service struct {
	store        domain.PersistentStore
	logger       *zap.Logger
	metrics      MetricsRecorder
	publisher    EventPublisher
	resolver     AttachmentResolver
	compliance   *compliance.Engine
	hasher       audit.Hasher
	locks        *entityLocks
	lockTimeout  time.Duration
	qr           QRSettings
	historyLimit int
	now          func() time.Time
	clockSet     bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Stores that accept a clock are
// switched to the same source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
			s.clockSet = true
		}
	}
}

// WithMetrics sets the operation metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithPublisher hands committed events to publisher.
func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithAttachmentResolver validates event attachment keys against resolver.
func WithAttachmentResolver(resolver AttachmentResolver) Option {
	return func(s *Service) { s.resolver = resolver }
}

// WithComplianceEngine replaces the default compliance engine.
func WithComplianceEngine(engine *compliance.Engine) Option {
	return func(s *Service) {
		if engine != nil {
			s.compliance = engine
		}
	}
}

// WithLockTimeout bounds the wait for entity write locks.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithHashChain enables chained audit hashing for new entries.
func WithHashChain(enabled bool) Option {
	return func(s *Service) { s.hasher = audit.Hasher{Chained: enabled} }
}

// WithQRSettings configures QR issuance.
func WithQRSettings(settings QRSettings) Option {
	return func(s *Service) {
		if settings.BaseURL == "" {
			settings.BaseURL = DefaultQRSettings().BaseURL
		}
		if settings.Issuer == "" {
			settings.Issuer = DefaultQRSettings().Issuer
		}
		s.qr = settings
	}
}

// WithHistoryLimit sets how many history items VerifyQR returns.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

type clockedStore interface {
	SetNowFunc(func() time.Time)
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       zap.NewNop(),
		metrics:      noopMetrics{},
		compliance:   compliance.NewEngine(),
		locks:        newEntityLocks(),
		lockTimeout:  DefaultLockTimeout,
		qr:           DefaultQRSettings(),
		historyLimit: DefaultHistoryLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if cs, ok := store.(clockedStore); ok && s.clockSet {
		cs.SetNowFunc(s.now)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// default rules engine.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// ComplianceEngine returns the engine used by CheckCompliance.
func (s *Service) ComplianceEngine() *compliance.Engine {
	return s.compliance
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// observe records metrics for an operation; call it deferred with a pointer
// to the named error result.
func (s *Service) observe(ctx context.Context, op string, started time.Time, errp *error) {
	success := errp == nil || *errp == nil
	s.metrics.Observe(ctx, op, success, time.Since(started))
	if !success {
		s.logger.Debug("operation failed", zap.String("operation", op), zap.Error(*errp))
	}
}

// lock acquires the write lock for an entity.
func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	release, err := s.locks.acquire(ctx, id, s.lockTimeout)
	if err != nil {
		s.logger.Info("entity lock not acquired", zap.String("entity_id", id), zap.Duration("timeout", s.lockTimeout), zap.Error(err))
		return nil, err
	}
	return release, nil
}

// run executes fn in a store transaction and logs non-blocking violations.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) error) error {
	res, err := s.store.RunInTransaction(ctx, fn)
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation",
			zap.String("operation", op),
			zap.String("rule", v.Rule),
			zap.String("severity", string(v.Severity)),
			zap.String("entity_id", v.EntityID),
			zap.String("message", v.Message))
	}
	if err != nil {
		return err
	}
	s.logger.Debug("transaction committed", zap.String("operation", op))
	return nil
}

// publish hands committed events to the publisher. Failures are logged and
// never affect the commit.
func (s *Service) publish(ctx context.Context, events ...domain.Event) {
	if s.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range events {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("event publish failed",
				zap.String("event_id", evt.ID),
				zap.String("entity_id", evt.EntityID),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err))
		}
	}
}
