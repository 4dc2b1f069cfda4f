package source

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSnapshotURL(t *testing.T) {
	assert.True(t, IsSnapshotURL("http://cam.local/image.jpg"))
	assert.True(t, IsSnapshotURL("https://cam.local/cgi/snapshot?ch=1"))
	assert.False(t, IsSnapshotURL("http://cam.local/video.mjpg"))
	assert.False(t, IsSnapshotURL("rtsp://cam.local/stream.jpg"))
	assert.False(t, IsSnapshotURL("/data/frame.jpg"))
}

func TestHTTPSnapshotSource(t *testing.T) {
	frame := jpegBytes(t, 40, 20)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Second request fails, the rest succeed
		if requests.Add(1) == 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer srv.Close()

	src := NewHTTPSnapshotSource(srv.URL+"/snapshot.jpg", 50)
	defer src.Close()
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, image.Pt(40, 20), first.Image.Bounds().Size())

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, int32(3), requests.Load())
}

func TestHTTPSnapshotSource_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSnapshotSource(srv.URL+"/image.jpg", 10)
	defer src.Close()

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestHTTPSnapshotSource_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSnapshotSource(srv.URL+"/image.jpg", 1)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
