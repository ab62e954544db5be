package artifacts

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/chatops/pkg/config"
)

// Open builds the configured artifact store. It returns a nil Store when
// artifact storage is disabled.
func Open(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case config.ArtifactsNone:
		return nil, nil
	case config.ArtifactsFS:
		return NewFileStore(cfg.Dir)
	case config.ArtifactsS3:
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.Prefix,
		})
	case config.ArtifactsGCS:
		return openGCS(ctx, cfg)
	default:
		return nil, fmt.Errorf("artifacts: unsupported backend %q", cfg.Backend)
	}
}
