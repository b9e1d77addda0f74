// Package capture models the embedding-capture collaborator. The
// backend never sees camera frames directly: kiosks either compute the
// embedding client-side and hand it over, or upload a frame to a
// sidecar extractor service.
package capture

import (
	"context"
)

// Source produces a probe embedding for one identification attempt.
// A nil embedding with a nil error means no face was extracted (timed
// out, no camera, nothing detected); that is a recoverable condition
// the coordinator handles, not a fault.
type Source interface {
	Capture(ctx context.Context) ([]float32, error)
}

// StaticSource wraps an embedding the kiosk already extracted
// client-side. An empty slice behaves like a failed capture.
type StaticSource []float32

// Capture returns the wrapped embedding.
func (s StaticSource) Capture(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	return s, nil
}
