package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// healthCacheTTL is how long a successful health check is trusted
const healthCacheTTL = 30 * time.Second

// ServiceDetector talks to an object detection service over HTTP
type ServiceDetector struct {
	endpoint    string
	client      *http.Client
	enabled     bool
	healthCheck time.Time
	mu          sync.Mutex
}

// Detection represents a detected object
type Detection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// DetectionResult represents the full detection response
type DetectionResult struct {
	Detections      []Detection `json:"detections"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device,omitempty"`
}

// NewServiceDetector creates a detector client for the given base endpoint
func NewServiceDetector(endpoint string, timeout time.Duration) *ServiceDetector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ServiceDetector{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		enabled: true,
	}
}

// IsHealthy checks if the detection service is available
func (sd *ServiceDetector) IsHealthy() bool {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	// Cache health check for 30 seconds
	if time.Since(sd.healthCheck) < healthCacheTTL && sd.enabled {
		return true
	}

	resp, err := sd.client.Get(sd.endpoint + "/health")
	if err != nil {
		log.Warnf("[Detector] Health check failed: %v", err)
		sd.enabled = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		sd.healthCheck = time.Now()
		sd.enabled = true
		return true
	}

	log.Warnf("[Detector] Health check returned status %d", resp.StatusCode)
	sd.enabled = false
	return false
}

// markUnavailable forces the next call to re-check health
func (sd *ServiceDetector) markUnavailable() {
	sd.mu.Lock()
	sd.enabled = false
	sd.mu.Unlock()
}

// DetectObjects posts a JPEG frame and returns the service's detections
func (sd *ServiceDetector) DetectObjects(ctx context.Context, imageData []byte, confThreshold float32) (*DetectionResult, error) {
	if !sd.IsHealthy() {
		return nil, fmt.Errorf("detection service unavailable")
	}

	// Create multipart form data
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}

	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.2f", confThreshold)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sd.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := sd.client.Do(req)
	if err != nil {
		sd.markUnavailable()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detection failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	log.Debugf("[Detector] %d detections in %.1fms", len(result.Detections), result.InferenceTimeMs)
	return &result, nil
}
