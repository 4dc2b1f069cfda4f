package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"roadvision/internal/pipeline"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff"}

// DirSource yields the images of a directory in lexical order
type DirSource struct {
	paths []string
	next  int
}

// NewDirSource lists the images in dir
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return &DirSource{paths: paths}, nil
}

// Len returns the number of frames
func (s *DirSource) Len() int { return len(s.paths) }

// Next decodes the next image, or returns io.EOF after the last one
func (s *DirSource) Next(ctx context.Context) (*pipeline.FrameData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}

	path := s.paths[s.next]
	s.next++
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &pipeline.InvalidFrameError{Reason: fmt.Sprintf("failed to open %s", path), Err: err}
	}

	return &pipeline.FrameData{Seq: uint64(s.next), Timestamp: time.Now(), Image: img}, nil
}

func (s *DirSource) Close() error { return nil }

var _ pipeline.FrameSource = (*DirSource)(nil)
