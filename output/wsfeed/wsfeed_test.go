package wsfeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TihanPelser/370Z-CAN-Logger/frame"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sampleFrame() *frame.Decoded {
	return &frame.Decoded{
		Raw:    frame.Raw{Timestamp: 12.5, ID: 0x280},
		Source: "ABS",
		Signals: map[string]frame.Value{
			frame.SignalSpeedKPH: frame.Number(100),
		},
	}
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.HandleFrame(context.Background(), sampleFrame()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "0x280", msg["id"])
	assert.Equal(t, "ABS", msg["source"])

	signals := msg["signals"].(map[string]any)
	assert.Equal(t, 100.0, signals["speed_kph"])
}

func TestHubBroadcastsToMultipleClients(t *testing.T) {
	hub, url := startHub(t)

	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.HandleFrame(context.Background(), sampleFrame()))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	hub, url := startHub(t)

	dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// flood without the client reading until its queue backs up
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		require.NoError(t, hub.HandleFrame(context.Background(), sampleFrame()))
	}

	assert.Zero(t, hub.ClientCount())
}

func TestHubBroadcastWithNoClients(t *testing.T) {
	hub := NewHub(nil)
	assert.NoError(t, hub.HandleFrame(context.Background(), sampleFrame()))
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.Zero(t, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err) // server closed the connection
}
