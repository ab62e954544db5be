//go:build gcp

package artifacts

import (
	"context"

	"github.com/Mindburn-Labs/chatops/pkg/config"
)

func openGCS(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	return NewGCSStore(ctx, GCSConfig{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
}
