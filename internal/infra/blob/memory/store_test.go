package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"herbtrace/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "lots/a/photo.jpg", bytes.NewReader([]byte("jpeg")), core.PutOptions{ContentType: "image/jpeg", Metadata: map[string]string{"operator": "qa"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 4 || len(info.ETag) != 64 || info.Metadata["operator"] != "qa" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "lots/a/photo.jpg", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	info.Metadata["operator"] = "mutated"
	head, err := s.Head(ctx, "lots/a/photo.jpg")
	if err != nil || head.Metadata["operator"] != "qa" {
		t.Fatalf("head returned shared metadata: %+v %v", head, err)
	}
	_, rc, err := s.Get(ctx, "lots/a/photo.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "jpeg" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := s.Put(ctx, "plants/b.pdf", bytes.NewReader([]byte("pdf")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, _ := s.List(ctx, "lots/")
	if len(list) != 1 || list[0].Key != "lots/a/photo.jpg" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key > all[1].Key {
		t.Fatalf("expected sorted full listing, got %+v", all)
	}
	if _, err := s.PresignURL(ctx, "lots/a/photo.jpg", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
	if ok, _ := s.Delete(ctx, "lots/a/photo.jpg"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "lots/a/photo.jpg"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, err := s.Head(ctx, "lots/a/photo.jpg"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := s.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key rejection")
	}
}
