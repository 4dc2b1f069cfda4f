package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

// maxSnapshotFailures bounds consecutive fetch failures before Next gives up
const maxSnapshotFailures = 5

// HTTPSnapshotSource polls a camera's still-image endpoint
type HTTPSnapshotSource struct {
	url      string
	client   *http.Client
	interval time.Duration
	ticker   *time.Ticker
	seq      uint64
}

// IsSnapshotURL reports whether input looks like a still-image endpoint
// rather than a video stream
func IsSnapshotURL(input string) bool {
	return (strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")) &&
		(strings.Contains(input, ".jpg") || strings.Contains(input, ".jpeg") || strings.Contains(input, "snapshot"))
}

// NewHTTPSnapshotSource polls url at fps, capped at 10 requests per second
func NewHTTPSnapshotSource(url string, fps int) *HTTPSnapshotSource {
	interval := time.Second
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	return &HTTPSnapshotSource{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: interval,
	}
}

// Next waits for the next poll tick and fetches one frame. Transient failures
// are retried on the following ticks.
func (s *HTTPSnapshotSource) Next(ctx context.Context) (*pipeline.FrameData, error) {
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.interval)
		// First frame without waiting
		frame, err := s.fetch(ctx)
		if err == nil {
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("[Source] Error fetching frame from %s: %v", s.url, err)
	}

	var lastErr error
	for failures := 0; failures < maxSnapshotFailures; failures++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ticker.C:
		}

		frame, err := s.fetch(ctx)
		if err == nil {
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("[Source] Error fetching frame from %s: %v", s.url, err)
		lastErr = err
	}
	return nil, fmt.Errorf("snapshot source failed %d times: %w", maxSnapshotFailures, lastErr)
}

func (s *HTTPSnapshotSource) fetch(ctx context.Context) (*pipeline.FrameData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	s.seq++
	return &pipeline.FrameData{Seq: s.seq, Timestamp: time.Now(), Image: img}, nil
}

// Close stops polling
func (s *HTTPSnapshotSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}

var _ pipeline.FrameSource = (*HTTPSnapshotSource)(nil)
