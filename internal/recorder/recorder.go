// Package recorder stores raw and processed frames of a session as numbered JPEG files.
package recorder

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

const (
	RawDir       = "raw"
	ProcessedDir = "processed"
)

// Recorder writes frames under <root>/<session>/{raw,processed}/NNNNNN.jpg
type Recorder struct {
	dir       string
	quality   int
	raw       int
	processed int
	closed    bool
	mu        sync.Mutex
}

// New creates the session directory tree
func New(root, sessionID string, quality int) (*Recorder, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	dir := filepath.Join(root, sessionID)
	for _, sub := range []string{RawDir, ProcessedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	log.Printf("[Recorder] Recording session to %s", dir)
	return &Recorder{dir: dir, quality: quality}, nil
}

// Dir returns the session directory
func (r *Recorder) Dir() string { return r.dir }

// Counts returns the number of raw and processed frames written
func (r *Recorder) Counts() (raw, processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raw, r.processed
}

func (r *Recorder) RecordRaw(frame image.Image) error {
	return r.write(RawDir, &r.raw, frame)
}

func (r *Recorder) RecordProcessed(frame image.Image) error {
	return r.write(ProcessedDir, &r.processed, frame)
}

func (r *Recorder) write(sub string, counter *int, frame image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	path := filepath.Join(r.dir, sub, fmt.Sprintf("%06d.jpg", *counter+1))
	if err := imaging.Save(frame, path, imaging.JPEGQuality(r.quality)); err != nil {
		return fmt.Errorf("failed to save %s frame: %w", sub, err)
	}
	*counter++
	return nil
}

// Close stops recording
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		log.Printf("[Recorder] Closed %s (%d raw, %d processed frames)", r.dir, r.raw, r.processed)
	}
	return nil
}

var _ pipeline.Recorder = (*Recorder)(nil)
