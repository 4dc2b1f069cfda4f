package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// FrameProcessor is the per-frame step the runner drives
type FrameProcessor interface {
	Process(ctx context.Context, frame image.Image) (*Output, error)
}

// RunStats contains statistics of a frame loop
type RunStats struct {
	SessionID       string    `json:"session_id"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesInvalid   uint64    `json:"frames_invalid"`
	StartedAt       time.Time `json:"started_at"`
	LastFrameTime   int64     `json:"last_frame_time"`
	AvgProcessMs    float32   `json:"avg_process_ms"`
}

// Runner pulls frames from a source and feeds them to the fusion step
type Runner struct {
	source    FrameSource
	processor FrameProcessor
	onOutput  func(*FrameData, *Output)
	stats     RunStats
	statsMu   sync.RWMutex
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithOutputHandler is called after every successfully processed frame
func WithOutputHandler(fn func(*FrameData, *Output)) RunnerOption {
	return func(r *Runner) { r.onOutput = fn }
}

// NewRunner creates a frame loop over source
func NewRunner(source FrameSource, processor FrameProcessor, sessionID string, opts ...RunnerOption) *Runner {
	r := &Runner{
		source:    source,
		processor: processor,
		stats:     RunStats{SessionID: sessionID},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes frames until the source is exhausted, ctx is cancelled or a
// frame fails with a halting error. Invalid frames are logged and skipped.
// Exhausting the source returns nil.
func (r *Runner) Run(ctx context.Context) error {
	r.statsMu.Lock()
	r.stats.StartedAt = time.Now()
	r.statsMu.Unlock()

	log.Printf("[Runner] Processing loop started for session %s", r.stats.SessionID)
	defer func() {
		stats := r.Stats()
		log.Printf("[Runner] Processing loop stopped: %d frames, %d invalid, avg %.1fms",
			stats.FramesProcessed, stats.FramesInvalid, stats.AvgProcessMs)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := r.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, ErrInvalidFrame) {
			log.Warnf("[Runner] Skipping unreadable frame: %v", err)
			r.countInvalid()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		start := time.Now()
		out, err := r.processor.Process(ctx, frame.Image)
		if errors.Is(err, ErrInvalidFrame) {
			log.Warnf("[Runner] Skipping frame %d: %v", frame.Seq, err)
			r.countInvalid()
			continue
		}
		if err != nil {
			return err
		}

		elapsed := float32(time.Since(start).Microseconds()) / 1000
		r.statsMu.Lock()
		r.stats.FramesProcessed++
		r.stats.LastFrameTime = time.Now().Unix()
		if r.stats.FramesProcessed == 1 {
			r.stats.AvgProcessMs = elapsed
		} else {
			r.stats.AvgProcessMs = (r.stats.AvgProcessMs + elapsed) / 2
		}
		processed := r.stats.FramesProcessed
		r.statsMu.Unlock()

		if r.onOutput != nil {
			r.onOutput(frame, out)
		}

		if processed%100 == 0 {
			log.Debugf("[Runner] Session %s: %d frames", r.stats.SessionID, processed)
		}
	}
}

func (r *Runner) countInvalid() {
	r.statsMu.Lock()
	r.stats.FramesInvalid++
	r.statsMu.Unlock()
}

// Stats returns a copy of the loop statistics
func (r *Runner) Stats() RunStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

var _ FrameProcessor = (*Fusion)(nil)
