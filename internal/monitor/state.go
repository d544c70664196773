// Package monitor serves a read only view of a running strip: decoded
// frames and diagnostics over websockets, counters over /health.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	diag "github.com/coreman2200/ws2812stream/internal/diagnostics"
	"github.com/coreman2200/ws2812stream/transfer"
)

// recentDiags is how many diagnostics a new /diag client is replayed.
const recentDiags = 32

type Info struct {
	NumPixels int
	Channels  int
	FPS       int
	Driver    string
	Pattern   string
}

type State struct {
	mu   sync.RWMutex
	info Info

	frameID   uint64
	stats     transfer.Stats
	phase     transfer.Phase
	startTime time.Time
	recent    []diag.Diagnostic

	// wmu serializes websocket writes; a conn allows one writer.
	wmu         sync.Mutex
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool

	log zerolog.Logger
}

func NewState(info Info, logger *zerolog.Logger) *State {
	s := &State{
		info:        info,
		startTime:   time.Now(),
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
		log:         zerolog.Nop(),
	}
	if logger != nil {
		s.log = *logger
	}
	return s
}

// SetDriver records the driver actually in use after any fallback.
func (s *State) SetDriver(name string) {
	s.mu.Lock()
	s.info.Driver = name
	s.mu.Unlock()
}

// Handler routes /ws, /diag and /health.
func (s *State) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleFramesWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/health", s.HandleHealth)
	return withCORS(mux)
}

type frame struct {
	T       int64  `json:"t"`
	FrameID uint64 `json:"frame_id"`
	Channel int    `json:"channel"`
	RGB     []byte `json:"rgb"`
}

// PublishFrame sends the frame a channel received to every /ws client.
func (s *State) PublishFrame(channel int, rgb []byte) {
	s.mu.Lock()
	s.frameID++
	id := s.frameID
	s.mu.Unlock()

	b, _ := json.Marshal(frame{T: time.Now().UnixNano(), FrameID: id, Channel: channel, RGB: rgb})
	s.broadcast(s.clients, b)
}

// PublishStats records engine counters and raises diagnostics for
// anything new since the previous snapshot.
func (s *State) PublishStats(st transfer.Stats, phase transfer.Phase) {
	s.mu.Lock()
	prev := s.stats
	s.stats, s.phase = st, phase
	s.mu.Unlock()
	for _, d := range diag.Transfer(prev, st) {
		s.PushDiag(d)
	}
}

// PushDiag keeps d for late joiners and sends it to every /diag client.
func (s *State) PushDiag(d diag.Diagnostic) {
	s.mu.Lock()
	s.recent = append(s.recent, d)
	if len(s.recent) > recentDiags {
		s.recent = s.recent[len(s.recent)-recentDiags:]
	}
	s.mu.Unlock()

	b, _ := json.Marshal(d)
	s.broadcast(s.diagClients, b)
}

// Recent returns the retained diagnostics, oldest first.
func (s *State) Recent() []diag.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]diag.Diagnostic(nil), s.recent...)
}

func (s *State) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r, s.clients)
	if !ok {
		return
	}
	s.mu.RLock()
	top := map[string]any{
		"count":    s.info.NumPixels,
		"channels": s.info.Channels,
		"driver":   s.info.Driver,
		"pattern":  s.info.Pattern,
	}
	s.mu.RUnlock()
	b, _ := json.Marshal(top)
	s.write(conn, b)
}

func (s *State) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r, s.diagClients)
	if !ok {
		return
	}
	for _, d := range s.Recent() {
		b, _ := json.Marshal(d)
		s.write(conn, b)
	}
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := map[string]any{
		"frame_id":  s.frameID,
		"uptime_s":  time.Since(s.startTime).Seconds(),
		"count":     s.info.NumPixels,
		"channels":  s.info.Channels,
		"fps":       s.info.FPS,
		"driver":    s.info.Driver,
		"phase":     s.phase.String(),
		"transfers": s.stats.Transfers,
		"pixels":    s.stats.Pixels,
		"overruns":  s.stats.Overruns,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// accept upgrades the request and registers the conn in set. Incoming
// messages are drained and dropped; the monitor takes no commands.
func (s *State) accept(w http.ResponseWriter, r *http.Request, set map[*websocket.Conn]bool) (*websocket.Conn, bool) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, false
	}
	s.wmu.Lock()
	set[conn] = true
	s.wmu.Unlock()

	go func() {
		defer func() {
			s.wmu.Lock()
			delete(set, conn)
			s.wmu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return conn, true
}

func (s *State) write(c *websocket.Conn, b []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		s.log.Debug().Err(err).Msg("write message")
	}
}

func (s *State) broadcast(set map[*websocket.Conn]bool, b []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for c := range set {
		c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			s.log.Debug().Err(err).Msg("write message")
		}
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
