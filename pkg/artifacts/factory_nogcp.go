//go:build !gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/chatops/pkg/config"
)

func openGCS(context.Context, config.ArtifactsConfig) (Store, error) {
	return nil, fmt.Errorf("artifacts: GCS storage is not enabled in this build (use -tags gcp)")
}
