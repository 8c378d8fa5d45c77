//go:build !gcp

package attachments

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	return nil, fmt.Errorf("attachments: gcs backend is not enabled in this build (use -tags gcp)")
}
