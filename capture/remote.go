package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RemoteExtractor asks a sidecar model service for the embedding of an
// uploaded camera frame. The settle delay mirrors the kiosk waiting for
// the video stream to stabilize before grabbing a frame.
type RemoteExtractor struct {
	URL        string
	Frame      []byte // encoded image bytes as uploaded by the kiosk
	SettleTime time.Duration
	Client     *http.Client
}

type extractResponse struct {
	Embedding []float32 `json:"embedding"`
	FaceFound bool      `json:"face_found"`
}

// Capture posts the frame to the extractor service. A response without
// a face maps to (nil, nil), per the Source contract.
func (r *RemoteExtractor) Capture(ctx context.Context) ([]float32, error) {
	if r.SettleTime > 0 {
		select {
		case <-time.After(r.SettleTime):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Frame))
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned status %d", resp.StatusCode)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode extractor response: %w", err)
	}
	if !out.FaceFound || len(out.Embedding) == 0 {
		return nil, nil
	}
	return out.Embedding, nil
}
