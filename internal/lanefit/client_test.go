package lanefit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadvision/internal/geometry"
	"roadvision/internal/smoothing"
)

func encodeJPEG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newCache(t *testing.T) *smoothing.Cache {
	t.Helper()
	c, err := smoothing.New(5)
	require.NoError(t, err)
	return c
}

func TestFit(t *testing.T) {
	overlay := encodeJPEG(t, imaging.New(64, 36, color.NRGBA{0, 255, 0, 255}))
	var received atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fit" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req FitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received.Store(req)
		json.NewEncoder(w).Encode(FitResponse{
			Overlay:       overlay,
			LaneCurve:     1500,
			LeftCurve:     1200,
			RightCurve:    1800,
			VehicleOffset: -0.12,
			Turn:          "Left Curve",
		})
	}))
	defer srv.Close()

	cache := newCache(t)
	cache.Push(1000, 2000)

	adapter, err := geometry.NewAdapter(geometry.DefaultROI)
	require.NoError(t, err)

	c := NewClient(srv.URL, 0)
	fit, err := c.Fit(context.Background(), imaging.New(64, 36, color.Black), cache, adapter.NewFrameROI(), true)
	require.NoError(t, err)

	assert.Equal(t, 1200.0, fit.LeftCurve)
	assert.Equal(t, 1800.0, fit.RightCurve)
	assert.Equal(t, 1500.0, fit.LaneCurve)
	assert.Equal(t, -0.12, fit.VehicleOffset)
	assert.Equal(t, "Left Curve", fit.Turn)
	require.NotNil(t, fit.Overlay)
	assert.Equal(t, image.Pt(64, 36), fit.Overlay.Bounds().Size())
	assert.Nil(t, fit.Visual)

	// Curves pushed into the cache
	latest, err := cache.Latest()
	require.NoError(t, err)
	assert.Equal(t, []float64{1200, 1800}, latest)
	assert.Equal(t, 2, cache.Len())

	req := received.Load().(FitRequest)
	assert.True(t, req.Visualize)
	assert.Equal(t, [][]float64{{1000, 2000}}, req.History)
	assert.Equal(t, [][2]float64{{0.43, 0.63}, {0.57, 0.63}, {0.05, 0.95}, {0.95, 0.95}}, req.ROI)
	assert.NotEmpty(t, req.Frame)
}

func TestFit_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no lanes found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cache := newCache(t)
	adapter, err := geometry.NewAdapter(geometry.DefaultROI)
	require.NoError(t, err)

	_, err = NewClient(srv.URL, 0).Fit(context.Background(), imaging.New(8, 8, color.Black), cache, adapter.NewFrameROI(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no lanes found")
	assert.True(t, cache.Empty())
}

func TestFit_InvalidOverlay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(FitResponse{Overlay: "not base64!"})
	}))
	defer srv.Close()

	cache := newCache(t)
	adapter, err := geometry.NewAdapter(geometry.DefaultROI)
	require.NoError(t, err)

	_, err = NewClient(srv.URL, 0).Fit(context.Background(), imaging.New(8, 8, color.Black), cache, adapter.NewFrameROI(), false)
	assert.Error(t, err)
	assert.True(t, cache.Empty())
}

func TestIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	assert.True(t, NewClient(srv.URL, 0).IsHealthy())
	assert.False(t, NewClient(srv.URL+"/missing", 0).IsHealthy())
}
