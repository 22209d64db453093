package blob

import (
	"context"

	"github.com/traylinx/flowforge/internal/config"
)

// Open builds the configured archive. It returns nil when archiving is off.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Backend == "minio" {
		return NewMinioStore(ctx, MinioConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
		})
	}
	return NewFSStore(cfg.Dir)
}
