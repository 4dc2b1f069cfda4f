// Package source provides frame sources for the fusion loop: concatenated JPEG
// streams (ffmpeg image2pipe, stdin) and directories of still images.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"roadvision/internal/pipeline"
)

// maxFrameBytes bounds the buffer while waiting for an end-of-image marker
const maxFrameBytes = 16 << 20

// StreamSource decodes concatenated JPEG images from a reader
type StreamSource struct {
	r      io.Reader
	closer io.Closer
	buffer []byte
	chunk  []byte
	seq    uint64
	mu     sync.Mutex
}

// NewStreamSource reads JPEG frames from r. If r is an io.Closer it is closed by Close.
func NewStreamSource(r io.Reader) *StreamSource {
	s := &StreamSource{
		r:      r,
		buffer: make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 8192),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NextJPEG returns the next complete JPEG image, or io.EOF when the stream ends
func (s *StreamSource) NextJPEG(ctx context.Context) ([]byte, error) {
	for {
		if frame := extractJPEGFrame(&s.buffer); frame != nil {
			return frame, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.buffer) > maxFrameBytes {
			return nil, fmt.Errorf("no complete JPEG within %d bytes", maxFrameBytes)
		}

		n, err := s.r.Read(s.chunk)
		s.buffer = append(s.buffer, s.chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A last frame may still be complete
				if frame := extractJPEGFrame(&s.buffer); frame != nil {
					return frame, nil
				}
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// Next decodes the next frame. A frame that does not decode is reported as a
// *pipeline.InvalidFrameError and the stream stays usable.
func (s *StreamSource) Next(ctx context.Context) (*pipeline.FrameData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.NextJPEG(ctx)
	if err != nil {
		return nil, err
	}
	s.seq++
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &pipeline.InvalidFrameError{Reason: fmt.Sprintf("failed to decode frame %d", s.seq), Err: err}
	}
	return &pipeline.FrameData{Seq: s.seq, Timestamp: time.Now(), Image: img}, nil
}

// Close closes the underlying reader when it is closable
func (s *StreamSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := bytes.Index(*buffer, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		// Keep a trailing 0xFF that may begin a marker
		if (*buffer)[len(*buffer)-1] == 0xFF {
			*buffer = (*buffer)[len(*buffer)-1:]
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	// Find JPEG end marker (FFD9)
	endRel := bytes.Index((*buffer)[startIdx+2:], []byte{0xFF, 0xD9})
	if endRel == -1 {
		return nil
	}
	endIdx := startIdx + 2 + endRel + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

var _ pipeline.FrameSource = (*StreamSource)(nil)
