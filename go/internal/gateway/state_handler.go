package gateway

import (
	"net/http"
	"time"

	"github.com/mcdev12/bingolive/go/internal/roomsync"
)

// RoomStateResponse is the REST form of a session view.
type RoomStateResponse struct {
	RoomID        string        `json:"room_id"`
	UserID        string        `json:"user_id"`
	View          roomsync.View `json:"view"`
	TimeRemaining *int          `json:"time_remaining_sec,omitempty"`
	ServedAt      time.Time     `json:"served_at"`
}

// HandleRoomState handles GET /api/rooms/{id}/state.
func (s *Service) HandleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}
	sess := s.session(roomID)
	if sess == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	view := sess.Snapshot()
	resp := RoomStateResponse{
		RoomID:   roomID,
		UserID:   sess.UserID(),
		View:     view,
		ServedAt: time.Now().UTC(),
	}
	// Only a running draw cadence has a countdown worth showing.
	if view.CountdownSecs > 0 && !view.Paused {
		remaining := view.CountdownSecs
		resp.TimeRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, resp)
}
