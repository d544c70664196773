package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	diag "github.com/coreman2200/ws2812stream/internal/diagnostics"
	"github.com/coreman2200/ws2812stream/transfer"
)

func serve(t *testing.T) (*State, *httptest.Server) {
	t.Helper()
	s := NewState(Info{NumPixels: 2, Channels: 1, FPS: 30, Driver: "sim", Pattern: "solid"}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestHealth(t *testing.T) {
	s, srv := serve(t)
	s.SetDriver("console")
	s.PublishStats(transfer.Stats{Transfers: 7, Pixels: 14}, transfer.Idle)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, float64(7), got["transfers"])
	assert.Equal(t, float64(14), got["pixels"])
	assert.Equal(t, float64(0), got["overruns"])
	assert.Equal(t, "idle", got["phase"])
	assert.Equal(t, "console", got["driver"])
	assert.Empty(t, s.Recent())
}

func TestFrames(t *testing.T) {
	s, srv := serve(t)
	c := dial(t, srv, "/ws")

	var top map[string]any
	readJSON(t, c, &top)
	assert.Equal(t, float64(2), top["count"])
	assert.Equal(t, "solid", top["pattern"])

	s.PublishFrame(0, []byte{1, 2, 3, 4, 5, 6})
	var f frame
	readJSON(t, c, &f)
	assert.Equal(t, uint64(1), f.FrameID)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.RGB)
}

func TestDiagReplayAndOverrun(t *testing.T) {
	s, srv := serve(t)
	s.PushDiag(diag.Diagnostic{Severity: diag.Info, Code: "TIMING.RESET"})
	c := dial(t, srv, "/diag")

	var d diag.Diagnostic
	readJSON(t, c, &d)
	assert.Equal(t, "TIMING.RESET", d.Code)

	s.PublishStats(transfer.Stats{Transfers: 1}, transfer.Draining)
	s.PublishStats(transfer.Stats{Transfers: 2, Overruns: 1}, transfer.Idle)
	readJSON(t, c, &d)
	assert.Equal(t, "DMA.OVERRUN", d.Code)
	assert.Equal(t, diag.Err, d.Severity)
	assert.Len(t, s.Recent(), 2)
}

func TestRecentIsBounded(t *testing.T) {
	s := NewState(Info{}, nil)
	for i := 0; i < recentDiags+5; i++ {
		s.PushDiag(diag.Diagnostic{Code: "X"})
	}
	assert.Len(t, s.Recent(), recentDiags)
}
