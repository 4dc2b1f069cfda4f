package ws

import (
	"encoding/json"
	"image"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadvision/internal/lanes"
	"roadvision/internal/pipeline"
)

func TestReadoutHub_Broadcast(t *testing.T) {
	hub := NewReadoutHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/readout"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.OnFrameResult(&pipeline.FrameResult{
		SessionID:    "s1",
		Seq:          7,
		Measurements: &pipeline.Measurements{LeftCurve: 1200, Turn: "Straight"},
		Detections: []pipeline.Detection{
			{Class: "car", Confidence: 0.9, Box: image.Rect(10, 20, 50, 80), Lane: lanes.Left},
		},
		NearEdge: 0.7,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ReadoutMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "readout", msg.Type)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, uint64(7), msg.Seq)
	require.NotNil(t, msg.Measurements)
	assert.Equal(t, 1200.0, msg.Measurements.LeftCurve)
	assert.Nil(t, msg.Smoothed)
	assert.Equal(t, 0.7, msg.NearEdge)
	assert.Equal(t, []ObjectDetection{
		{Class: "car", Confidence: 0.9, BBox: []int{10, 20, 40, 60}, Lane: "left"},
	}, msg.Objects)
}

func TestReadoutHub_UnregisterOnClose(t *testing.T) {
	hub := NewReadoutHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestReadoutHub_NoClients(t *testing.T) {
	hub := NewReadoutHub()
	// Nothing to send to; must not panic
	hub.OnFrameResult(&pipeline.FrameResult{Seq: 1})
	hub.OnFrameResult(nil)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestReadoutHub_SlowClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewReadoutHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The client never reads, so socket buffers fill and the writer stalls.
	payload := make([]byte, 256*1024)
	start := time.Now()
	for i := 0; i < 200; i++ {
		hub.Broadcast(payload)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, hub.ClientCount())
}
