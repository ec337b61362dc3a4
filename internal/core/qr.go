package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"herbtrace/pkg/domain"

	"go.uber.org/zap"
)

const (
	qrTokenBytes = 24

	// RevocationSuperseded is recorded on codes replaced by a newer version.
	RevocationSuperseded = "superseded"
	// ReasonInactive is reported by VerifyQR for revoked, expired or tampered codes.
	ReasonInactive = "inactive"
)

// QRInfo is the public part of a QR code returned to verifiers.
type QRInfo struct {
	ID         string            `json:"id"`
	EntityKind domain.EntityKind `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Version    int               `json:"version"`
	Issuer     string            `json:"issuer"`
	IssuedAt   time.Time         `json:"issued_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
}

// EntitySnapshot is the public view of a verified entity.
type EntitySnapshot struct {
	Kind       domain.EntityKind `json:"entity_kind"`
	ID         string            `json:"id"`
	Identifier string            `json:"identifier"`
	LotType    domain.LotType    `json:"lot_type,omitempty"`
	LotID      string            `json:"lot_id,omitempty"`
	Species    string            `json:"species"`
	Variety    string            `json:"variety,omitempty"`
	Stage      domain.PlantStage `json:"stage,omitempty"`
	Status     domain.Status     `json:"status"`
	Active     bool              `json:"active"`
	Location   domain.Location   `json:"location"`
	CreatedAt  time.Time         `json:"created_at"`
}

// HistoryItem is one audit-backed event shown to verifiers.
type HistoryItem struct {
	EventID      string           `json:"event_id"`
	Type         domain.EventType `json:"type"`
	Timestamp    time.Time        `json:"timestamp"`
	Operator     string           `json:"operator"`
	Location     domain.Location  `json:"location"`
	Notes        string           `json:"notes,omitempty"`
	HashVerified bool             `json:"hash_verified"`
}

// Verification is the outcome of resolving a scanned QR code.
type Verification struct {
	Verified      bool            `json:"verified"`
	Reason        string          `json:"reason,omitempty"`
	VerifiedAt    time.Time       `json:"verified_at"`
	Code          *QRInfo         `json:"code,omitempty"`
	Entity        *EntitySnapshot `json:"entity,omitempty"`
	RecentHistory []HistoryItem   `json:"recent_history,omitempty"`
}

func newQRToken() (string, error) {
	buf := make([]byte, qrTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate qr token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// qrSecurityHash seals the binding fields of a code.
func qrSecurityHash(code domain.QRCode) string {
	fields := []string{
		code.ID,
		string(code.EntityKind),
		code.EntityID,
		strconv.Itoa(code.Version),
		code.Token,
		code.Issuer,
		code.IssuedAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func (s *Service) verificationURL(id, token string) string {
	return fmt.Sprintf("%s/%s?t=%s", strings.TrimRight(s.qr.BaseURL, "/"), url.PathEscape(id), url.QueryEscape(token))
}

// issueQRTx creates the next code version for an entity and, unless multiple
// active codes are allowed, revokes the codes it supersedes.
func (s *Service) issueQRTx(tx domain.Transaction, kind domain.EntityKind, entityID string, now time.Time) (domain.QRCode, error) {
	existing := tx.Snapshot().QRCodesFor(entityID)
	version := 1
	for _, code := range existing {
		if code.Version >= version {
			version = code.Version + 1
		}
	}
	if !s.qr.AllowMultipleActive {
		for _, code := range existing {
			if code.Status != domain.QRActive {
				continue
			}
			if _, err := tx.UpdateQRCode(code.ID, func(q *domain.QRCode) error {
				revoke(q, RevocationSuperseded, now)
				return nil
			}); err != nil {
				return domain.QRCode{}, err
			}
		}
	}
	token, err := newQRToken()
	if err != nil {
		return domain.QRCode{}, err
	}
	code := domain.QRCode{
		ID:         domain.NewID(),
		EntityKind: kind,
		EntityID:   entityID,
		Version:    version,
		Token:      token,
		Issuer:     s.qr.Issuer,
		IssuedAt:   now.UTC(),
		Status:     domain.QRActive,
	}
	code.VerificationURL = s.verificationURL(code.ID, token)
	if s.qr.TTL > 0 {
		expires := code.IssuedAt.Add(s.qr.TTL)
		code.ExpiresAt = &expires
	}
	code.SecurityHash = qrSecurityHash(code)
	return tx.CreateQRCode(code)
}

func revoke(q *domain.QRCode, reason string, now time.Time) {
	q.Status = domain.QRRevoked
	revokedAt := now.UTC()
	q.RevokedAt = &revokedAt
	q.RevocationReason = reason
}

// IssueQR issues a new code version for an existing entity.
func (s *Service) IssueQR(ctx context.Context, kind domain.EntityKind, entityID string) (code domain.QRCode, err error) {
	defer s.observe(ctx, "issue_qr", time.Now(), &err)
	release, err := s.lock(ctx, entityID)
	if err != nil {
		return domain.QRCode{}, err
	}
	defer release()
	err = s.run(ctx, "issue_qr", func(tx domain.Transaction) error {
		ref, err := resolveEntity(tx, kind, entityID)
		if err != nil {
			return err
		}
		code, err = s.issueQRTx(tx, ref.kind, ref.id(), s.clock())
		return err
	})
	if err != nil {
		return domain.QRCode{}, err
	}
	return code, nil
}

// RevokeQR revokes a code. Revoking an already revoked code returns it unchanged.
func (s *Service) RevokeQR(ctx context.Context, qrID, reason string) (code domain.QRCode, err error) {
	defer s.observe(ctx, "revoke_qr", time.Now(), &err)
	err = s.run(ctx, "revoke_qr", func(tx domain.Transaction) error {
		current, ok := tx.FindQRCode(qrID)
		if !ok {
			return domain.NotFoundError{Kind: "qr code", ID: qrID}
		}
		if current.Status == domain.QRRevoked {
			code = current
			return nil
		}
		if strings.TrimSpace(reason) == "" {
			reason = "revoked"
		}
		code, err = tx.UpdateQRCode(qrID, func(q *domain.QRCode) error {
			revoke(q, reason, s.clock())
			return nil
		})
		return err
	})
	if err != nil {
		return domain.QRCode{}, err
	}
	return code, nil
}

// QRCodesFor lists every code version issued for an entity.
func (s *Service) QRCodesFor(ctx context.Context, entityID string) ([]domain.QRCode, error) {
	var codes []domain.QRCode
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := findAny(v, entityID); !ok {
			return domain.NotFoundError{Kind: "entity", ID: entityID}
		}
		codes = v.QRCodesFor(entityID)
		return nil
	})
	return codes, err
}

// VerifyQR resolves a scanned code. Revoked, expired or tampered codes verify
// as inactive and disclose nothing about the entity.
func (s *Service) VerifyQR(ctx context.Context, qrID string) (out Verification, err error) {
	defer s.observe(ctx, "verify_qr", time.Now(), &err)
	now := s.clock()
	err = s.store.View(ctx, func(v domain.TransactionView) error {
		code, ok := v.FindQRCode(qrID)
		if !ok {
			return domain.NotFoundError{Kind: "qr code", ID: qrID}
		}
		out = Verification{VerifiedAt: now}
		if !code.ActiveAt(now) || qrSecurityHash(code) != code.SecurityHash {
			out.Reason = ReasonInactive
			return nil
		}
		ref, err := resolveEntity(v, code.EntityKind, code.EntityID)
		if err != nil {
			return err
		}
		out.Verified = true
		out.Code = &QRInfo{
			ID:         code.ID,
			EntityKind: code.EntityKind,
			EntityID:   code.EntityID,
			Version:    code.Version,
			Issuer:     code.Issuer,
			IssuedAt:   code.IssuedAt,
			ExpiresAt:  code.ExpiresAt,
		}
		out.Entity = snapshotOf(ref)
		out.RecentHistory = s.recentHistory(v, code.EntityID)
		return nil
	})
	if err != nil {
		return Verification{}, err
	}
	if !out.Verified {
		s.logger.Info("qr verification rejected", zap.String("qr_id", qrID), zap.String("reason", out.Reason))
	}
	return out, nil
}

func snapshotOf(ref entityRef) *EntitySnapshot {
	if ref.plant != nil {
		p := ref.plant
		return &EntitySnapshot{
			Kind:       domain.EntityPlant,
			ID:         p.ID,
			Identifier: p.PlantTag,
			LotID:      p.LotID,
			Species:    p.Species,
			Variety:    p.Variety,
			Stage:      p.Stage,
			Status:     p.Status,
			Active:     p.Active,
			Location:   p.Location,
			CreatedAt:  p.CreatedAt,
		}
	}
	l := ref.lot
	return &EntitySnapshot{
		Kind:       ref.kind,
		ID:         l.ID,
		Identifier: l.LotNumber,
		LotType:    l.Type,
		Species:    l.Species,
		Variety:    l.Variety,
		Status:     l.Status,
		Active:     l.Active,
		Location:   l.Location,
		CreatedAt:  l.CreatedAt,
	}
}

// recentHistory returns the last historyLimit audited events of an entity in
// history order, each flagged with its own verification result.
func (s *Service) recentHistory(v domain.TransactionView, entityID string) []HistoryItem {
	entries := v.AuditFor(entityID)
	verified := make(map[string]bool, len(entries))
	for _, r := range s.hasher.VerifyEntity(entries, v) {
		verified[r.Entry.ID] = r.OK
	}
	domain.SortAuditEntries(entries)
	if len(entries) > s.historyLimit {
		entries = entries[len(entries)-s.historyLimit:]
	}
	items := make([]HistoryItem, 0, len(entries))
	for _, entry := range entries {
		item := HistoryItem{
			EventID:      entry.RecordID,
			Type:         entry.EventType,
			Timestamp:    entry.EventTimestamp,
			Operator:     entry.Operator,
			HashVerified: verified[entry.ID],
		}
		if evt, ok := v.FindEvent(entry.RecordID); ok {
			item.Location = evt.Location
			item.Notes = evt.Notes
		}
		items = append(items, item)
	}
	return items
}
