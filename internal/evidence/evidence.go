// Package evidence uploads attachment files (field photos, certificates of
// analysis) to blob storage and resolves the keys events refer to.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"herbtrace/internal/blob/core"
	"herbtrace/pkg/domain"
)

// Store wraps a blob store with evidence key conventions.
type Store struct {
	blobs core.Store
}

// New wraps blobs.
func New(blobs core.Store) *Store {
	return &Store{blobs: blobs}
}

// Upload describes one attachment to store.
type Upload struct {
	Kind        domain.EntityKind
	EntityID    string
	Filename    string
	ContentType string
	Operator    string
	Body        io.Reader
}

// Key builds the object key for an attachment:
// <kind>/<entity id>/<attachment id>-<file name>.
func Key(kind domain.EntityKind, entityID, attachmentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "attachment"
	}
	return fmt.Sprintf("%s/%s/%s-%s", kind, entityID, attachmentID, name)
}

// Put stores an attachment and returns its blob info. The returned key is
// what callers place in an event's attachment list.
func (s *Store) Put(ctx context.Context, up Upload) (core.Info, error) {
	if !up.Kind.Valid() {
		return core.Info{}, domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", up.Kind)}
	}
	if strings.TrimSpace(up.EntityID) == "" {
		return core.Info{}, domain.ValidationError{Field: "entity_id", Reason: "required"}
	}
	if up.Body == nil {
		return core.Info{}, domain.ValidationError{Field: "body", Reason: "required"}
	}
	key := Key(up.Kind, up.EntityID, domain.NewID(), up.Filename)
	meta := map[string]string{"entity-kind": string(up.Kind), "entity-id": up.EntityID}
	if up.Operator != "" {
		meta["operator"] = up.Operator
	}
	info, err := s.blobs.Put(ctx, key, up.Body, core.PutOptions{ContentType: up.ContentType, Metadata: meta})
	if err != nil {
		return core.Info{}, fmt.Errorf("store attachment: %w", err)
	}
	return info, nil
}

// ResolveAttachment confirms key names a stored object. Missing objects are
// reported as validation errors; backend failures pass through.
func (s *Store) ResolveAttachment(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return domain.ValidationError{Field: "attachments", Reason: "empty attachment reference"}
	}
	if _, err := s.blobs.Head(ctx, key); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return domain.ValidationError{Field: "attachments", Reason: fmt.Sprintf("attachment %q not found", key)}
		}
		return fmt.Errorf("resolve attachment %s: %w", key, err)
	}
	return nil
}

// List returns the attachments stored for an entity.
func (s *Store) List(ctx context.Context, kind domain.EntityKind, entityID string) ([]core.Info, error) {
	return s.blobs.List(ctx, fmt.Sprintf("%s/%s/", kind, entityID))
}

// Link returns a download URL for key when the backend can sign one.
func (s *Store) Link(ctx context.Context, key string) (string, error) {
	return s.blobs.PresignURL(ctx, key, core.SignedURLOptions{})
}
