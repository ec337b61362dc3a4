// Package blob selects the evidence attachment backend from configuration.
package blob

import (
	"context"
	"fmt"

	"herbtrace/internal/blob/core"
	"herbtrace/internal/config"
	"herbtrace/internal/infra/blob/memory"
	"herbtrace/internal/infra/blob/s3"
)

// Open constructs the configured blob store. It returns nil, nil when no
// driver is configured.
func Open(ctx context.Context, cfg config.BlobConfig) (core.Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case string(core.DriverMemory):
		return memory.New(), nil
	case string(core.DriverS3):
		store, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
