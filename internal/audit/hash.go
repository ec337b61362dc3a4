// Package audit computes and verifies the content hashes that make the event
// history tamper-evident.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"herbtrace/pkg/domain"
)

// Hasher computes audit entry hashes. In chained mode each entry carries the
// hash of the previous entry of the same entity in PrevHash.
type Hasher struct {
	Chained bool
}

// canonicalEntry fixes field order for the hashed serialization. Every stored
// field of an entry except the hash itself is covered.
type canonicalEntry struct {
	ID             string            `json:"id"`
	RecordedAt     string            `json:"recorded_at"`
	RecordKind     domain.RecordKind `json:"record_kind"`
	RecordID       string            `json:"record_id"`
	EntityKind     domain.EntityKind `json:"entity_kind"`
	EntityID       string            `json:"entity_id"`
	Seq            int               `json:"seq"`
	EventType      domain.EventType  `json:"event_type"`
	EventTimestamp string            `json:"timestamp"`
	Operator       string            `json:"operator"`
	Verified       bool              `json:"verified"`
	PrevHash       string            `json:"prev_hash"`
}

// Canonical returns the exact bytes hashed for entry.
func (h Hasher) Canonical(entry domain.AuditEntry) ([]byte, error) {
	data, err := json.Marshal(canonicalEntry{
		ID:             entry.ID,
		RecordedAt:     entry.Timestamp.UTC().Format(time.RFC3339Nano),
		RecordKind:     entry.RecordKind,
		RecordID:       entry.RecordID,
		EntityKind:     entry.EntityKind,
		EntityID:       entry.EntityID,
		Seq:            entry.Seq,
		EventType:      entry.EventType,
		EventTimestamp: entry.EventTimestamp.UTC().Format(time.RFC3339Nano),
		Operator:       entry.Operator,
		Verified:       entry.Verified,
		PrevHash:       entry.PrevHash,
	})
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit entry %s: %w", entry.ID, err)
	}
	return data, nil
}

// Hash returns the hex SHA-256 of the canonical form of entry.
func (h Hasher) Hash(entry domain.AuditEntry) (string, error) {
	data, err := h.Canonical(entry)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewEntry builds the sealed audit entry wrapping evt. prev is the last entry
// committed for the same entity, or nil for the first one.
func (h Hasher) NewEntry(evt domain.Event, prev *domain.AuditEntry, now time.Time) (domain.AuditEntry, error) {
	entry := domain.AuditEntry{
		ID:             domain.NewID(),
		Timestamp:      now.UTC(),
		RecordKind:     domain.RecordEvent,
		RecordID:       evt.ID,
		EntityKind:     evt.EntityKind,
		EntityID:       evt.EntityID,
		Seq:            1,
		EventType:      evt.Type,
		EventTimestamp: evt.Timestamp.UTC(),
		Operator:       evt.Operator,
		Verified:       true,
	}
	if prev != nil {
		entry.Seq = prev.Seq + 1
		if h.Chained {
			entry.PrevHash = prev.Hash
		}
	}
	hash, err := h.Hash(entry)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.Hash = hash
	return entry, nil
}
