package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxSnapshotSize = 16 << 20

// SnapshotSource fetches still images from an IP camera snapshot endpoint.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource returns a source that issues one GET per frame.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	return &SnapshotSource{url: url, client: &http.Client{Timeout: timeout}}
}

// AcquireFrame downloads a single snapshot.
func (s *SnapshotSource) AcquireFrame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("camera: build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera: fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera: snapshot status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("camera: read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoFrames
	}
	return data, nil
}
