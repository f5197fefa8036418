//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (ObjectStore, error) {
	return nil, fmt.Errorf("GCS export storage is not enabled in this build (use -tags gcp)")
}
