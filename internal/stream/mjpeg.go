package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

// MJPEGStream serves composited frames as multipart MJPEG
type MJPEGStream struct {
	quality      int
	running      bool
	mu           sync.RWMutex
	clients      map[chan []byte]bool
	clientsMu    sync.RWMutex
	currentFrame image.Image
	currentJPEG  []byte
	frameSeq     uint64
	frameMu      sync.RWMutex
}

// NewMJPEGStream creates a stream encoding frames at the given JPEG quality
func NewMJPEGStream(quality int) *MJPEGStream {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &MJPEGStream{
		quality: quality,
		running: true,
		clients: make(map[chan []byte]bool),
	}
}

// OnFrameResult implements pipeline.ResultHandler
func (s *MJPEGStream) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil || result.Frame == nil {
		return
	}

	s.frameMu.Lock()
	s.currentFrame = result.Frame
	s.currentJPEG = nil
	s.frameSeq = result.Seq
	s.frameMu.Unlock()

	if s.ClientCount() == 0 {
		return
	}

	frame, err := s.encode(result.Frame)
	if err != nil {
		log.Warnf("[MJPEGStream] Failed to encode frame %d: %v", result.Seq, err)
		return
	}

	s.frameMu.Lock()
	if s.frameSeq == result.Seq {
		s.currentJPEG = frame
	}
	s.frameMu.Unlock()

	s.broadcast(frame)
}

func (s *MJPEGStream) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// broadcast sends an encoded frame to every client without blocking
func (s *MJPEGStream) broadcast(frame []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
}

// ClientCount returns the number of connected clients
func (s *MJPEGStream) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetCurrentFrame returns the latest frame as JPEG, or nil before the first frame
func (s *MJPEGStream) GetCurrentFrame() []byte {
	s.frameMu.RLock()
	img, cached, seq := s.currentFrame, s.currentJPEG, s.frameSeq
	s.frameMu.RUnlock()

	if cached != nil || img == nil {
		return cached
	}

	frame, err := s.encode(img)
	if err != nil {
		log.Warnf("[MJPEGStream] Failed to encode snapshot: %v", err)
		return nil
	}

	s.frameMu.Lock()
	if s.frameSeq == seq {
		s.currentJPEG = frame
	}
	s.frameMu.Unlock()
	return frame
}

// GetCurrentFrameSeq returns the sequence number of the latest frame
func (s *MJPEGStream) GetCurrentFrameSeq() uint64 {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frameSeq
}

// Stop disconnects all clients
func (s *MJPEGStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	// Close all client channels
	s.clientsMu.Lock()
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
	s.clientsMu.Unlock()
}

// ServeHTTP serves the MJPEG stream to a client
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		http.Error(w, "Stream stopped", http.StatusServiceUnavailable)
		return
	}

	// Get flusher for streaming
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set MJPEG headers
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Create client channel
	clientCh := make(chan []byte, 5)
	s.clientsMu.Lock()
	s.clients[clientCh] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientCh)
		s.clientsMu.Unlock()
	}()

	log.Printf("[MJPEGStream] Client connected from %s", r.RemoteAddr)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] Client disconnected from %s", r.RemoteAddr)
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}

			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

// SnapshotHandler serves single frame snapshots
type SnapshotHandler struct {
	stream *MJPEGStream
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(stream *MJPEGStream) *SnapshotHandler {
	return &SnapshotHandler{stream: stream}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.stream.GetCurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("X-Frame-Seq", fmt.Sprintf("%d", h.stream.GetCurrentFrameSeq()))
	w.Write(frame)
}

var _ pipeline.ResultHandler = (*MJPEGStream)(nil)
