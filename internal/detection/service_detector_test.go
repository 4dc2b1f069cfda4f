package detection

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService starts a fake detection service that records the last conf_threshold
func newTestService(t *testing.T, detectStatus int, body any) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var healthCalls atomic.Int32
	conf := &atomic.Value{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "jpeg-bytes" {
			http.Error(w, "unexpected file", http.StatusBadRequest)
			return
		}
		conf.Store(r.FormValue("conf_threshold"))
		w.WriteHeader(detectStatus)
		json.NewEncoder(w).Encode(body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &healthCalls, conf
}

func TestDetectObjects(t *testing.T) {
	srv, _, conf := newTestService(t, http.StatusOK, map[string]any{
		"detections": []map[string]any{
			{"class": "car", "class_id": 7, "confidence": 0.91, "bbox": []float32{10, 20, 110, 80}},
		},
		"inference_time_ms": 12.5,
	})

	sd := NewServiceDetector(srv.URL, 0)
	result, err := sd.DetectObjects(context.Background(), []byte("jpeg-bytes"), 0.2)
	require.NoError(t, err)

	require.Len(t, result.Detections, 1)
	d := result.Detections[0]
	assert.Equal(t, "car", d.Class)
	assert.Equal(t, 7, d.ClassID)
	assert.InDelta(t, 0.91, d.Confidence, 1e-6)
	assert.Equal(t, []float32{10, 20, 110, 80}, d.BBox)
	assert.InDelta(t, 12.5, result.InferenceTimeMs, 1e-6)

	assert.Equal(t, "0.20", conf.Load())
}

func TestDetectObjects_ErrorStatus(t *testing.T) {
	srv, _, _ := newTestService(t, http.StatusInternalServerError, map[string]string{"error": "model not loaded"})

	sd := NewServiceDetector(srv.URL, 0)
	_, err := sd.DetectObjects(context.Background(), []byte("jpeg-bytes"), 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestIsHealthy_CachesSuccess(t *testing.T) {
	srv, healthCalls, _ := newTestService(t, http.StatusOK, map[string]any{"detections": []any{}})

	sd := NewServiceDetector(srv.URL, 0)
	assert.True(t, sd.IsHealthy())
	assert.True(t, sd.IsHealthy())
	assert.Equal(t, int32(1), healthCalls.Load())
}

func TestIsHealthy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sd := NewServiceDetector(url, 0)
	assert.False(t, sd.IsHealthy())

	_, err := sd.DetectObjects(context.Background(), []byte("jpeg-bytes"), 0.2)
	assert.Error(t, err)
}

func TestIsHealthy_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.False(t, NewServiceDetector(srv.URL, 0).IsHealthy())
}
