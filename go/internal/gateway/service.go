// Package gateway exposes room sessions to a browser: a websocket that
// streams view events and accepts commands, and a REST snapshot endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/bingolive/go/internal/roomsync"
)

// Service serves the sessions attached to it.
type Service struct {
	cfg  ConnectionConfig
	cm   *ConnectionManager
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	sessions map[string]*roomsync.Session
}

func NewService(cfg ConnectionConfig) *Service {
	s := &Service{
		cfg:      cfg,
		done:     make(chan struct{}),
		sessions: make(map[string]*roomsync.Session),
	}
	s.cm = NewConnectionManager(cfg, s.handleMessage)
	return s
}

// Start runs the connection manager until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	s.cm.Run(s.done)
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.done) })
}

// Attach serves a started session and forwards its view events until the
// session ends.
func (s *Service) Attach(sess *roomsync.Session) {
	roomID := sess.RoomID()
	s.mu.Lock()
	s.sessions[roomID] = sess
	s.mu.Unlock()

	go func() {
		for ev := range sess.Events() {
			s.cm.BroadcastToRoom(roomID, &ev)
		}
		s.mu.Lock()
		if s.sessions[roomID] == sess {
			delete(s.sessions, roomID)
		}
		s.mu.Unlock()
		log.Info().Str("room_id", roomID).Msg("session detached from gateway")
	}()
}

func (s *Service) session(roomID string) *roomsync.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[roomID]
}

// HandleRoomConnection upgrades GET /ws/room?room_id=... and sends the
// current snapshot as the first frame.
func (s *Service) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	sess := s.session(roomID)
	if sess == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	view := sess.Snapshot()
	first, err := json.Marshal(roomsync.ViewEvent{Type: roomsync.ViewSnapshot, RoomID: roomID, View: &view, At: time.Now().UTC()})
	if err != nil {
		http.Error(w, "failed to encode snapshot", http.StatusInternalServerError)
		return
	}
	if _, err := s.cm.UpgradeConnection(w, r, sess.UserID(), roomID, first); err != nil {
		// The upgrader has already written an error response.
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to upgrade websocket connection")
	}
}

func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cm.Stats())
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", s.HandleRoomConnection)
	mux.HandleFunc("GET /ws/stats", s.HandleConnectionStats)
	mux.HandleFunc("GET /api/rooms/{id}/state", s.HandleRoomState)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

// Handler returns the routes wrapped with CORS and cleartext HTTP/2.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
