package blob

import (
	"context"
	"testing"

	"herbtrace/internal/blob/core"
	"herbtrace/internal/config"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.BlobConfig{})
	if err != nil || store != nil {
		t.Fatalf("expected disabled store, got %v %v", store, err)
	}
	store, err = Open(ctx, config.BlobConfig{Driver: "memory"})
	if err != nil || store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory store: %v", err)
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	store, err = Open(ctx, config.BlobConfig{Driver: "s3", S3Bucket: "evidence", S3Region: "eu-central-1", S3Endpoint: "https://minio.local", S3PathStyle: true})
	if err != nil || store.Driver() != core.DriverS3 {
		t.Fatalf("expected s3 store: %v", err)
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
