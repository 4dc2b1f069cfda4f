// Package lanefit is an HTTP client for a remote lane curve fitting service.
package lanefit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/geometry"
	"roadvision/internal/pipeline"
	"roadvision/internal/smoothing"
)

// FitRequest is the body of POST /fit
type FitRequest struct {
	Frame     string       `json:"frame"`   // base64 JPEG
	ROI       [][2]float64 `json:"roi"`     // normalized, order TL, TR, BL, BR
	History   [][]float64  `json:"history"` // [left, right] curve samples, oldest first
	Visualize bool         `json:"visualize"`
}

// FitResponse is the lane service's answer
type FitResponse struct {
	Overlay       string  `json:"overlay"`          // base64 JPEG, optional
	Visual        string  `json:"visual,omitempty"` // base64 JPEG, optional
	LaneCurve     float64 `json:"lane_curve"`
	LeftCurve     float64 `json:"left_curve"`
	RightCurve    float64 `json:"right_curve"`
	VehicleOffset float64 `json:"vehicle_offset"`
	Turn          string  `json:"turn"`
}

// Client fits lane curves through a remote service
type Client struct {
	endpoint    string
	client      *http.Client
	jpegQuality int
	healthCheck time.Time
	healthy     bool
	mu          sync.Mutex
}

// NewClient creates a lane fitting client for the given base endpoint
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: timeout},
		jpegQuality: 90,
	}
}

// IsHealthy checks GET /health, caching success for 30 seconds
func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthy && time.Since(c.healthCheck) < 30*time.Second {
		return true
	}

	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		log.Warnf("[LaneFit] Health check failed: %v", err)
		c.healthy = false
		return false
	}
	defer resp.Body.Close()

	c.healthy = resp.StatusCode == http.StatusOK
	if c.healthy {
		c.healthCheck = time.Now()
	}
	return c.healthy
}

// Fit sends the frame, ROI and curve history to the service and pushes the
// returned left/right curves into the cache
func (c *Client) Fit(ctx context.Context, frame image.Image, cache *smoothing.Cache, roi geometry.FrameROI, visualize bool) (*pipeline.LaneFit, error) {
	encoded, err := c.encode(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	body := FitRequest{
		Frame:     encoded,
		ROI:       make([][2]float64, 0, len(roi.Points)),
		History:   cache.All(),
		Visualize: visualize,
	}
	for _, p := range roi.Points {
		body.ROI = append(body.ROI, [2]float64{p.X, p.Y})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/fit", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("lane fit failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var result FitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode lane fit response: %w", err)
	}

	fit := &pipeline.LaneFit{
		LaneCurve:     result.LaneCurve,
		LeftCurve:     result.LeftCurve,
		RightCurve:    result.RightCurve,
		VehicleOffset: result.VehicleOffset,
		Turn:          result.Turn,
	}
	if fit.Overlay, err = decodeImage(result.Overlay); err != nil {
		return nil, fmt.Errorf("invalid overlay: %w", err)
	}
	if fit.Visual, err = decodeImage(result.Visual); err != nil {
		return nil, fmt.Errorf("invalid visual: %w", err)
	}

	cache.Push(result.LeftCurve, result.RightCurve)
	log.Debugf("[LaneFit] left %.0f right %.0f offset %.4f turn %s",
		result.LeftCurve, result.RightCurve, result.VehicleOffset, result.Turn)
	return fit, nil
}

func (c *Client) encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.jpegQuality)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeImage returns nil for an empty field
func decodeImage(field string) (image.Image, error) {
	if field == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return nil, err
	}
	return imaging.Decode(bytes.NewReader(data))
}

var _ pipeline.LanePipeline = (*Client)(nil)
var _ pipeline.HealthChecker = (*Client)(nil)
