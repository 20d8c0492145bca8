package roomsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/models"
)

type ViewEventType string

const (
	ViewSnapshot  ViewEventType = "snapshot"
	ViewOutcome   ViewEventType = "outcome"
	ViewRedirect  ViewEventType = "redirect"
	ViewFeedState ViewEventType = "feed_state"
)

// View is what a client renders for a room.
type View struct {
	Room          models.Room          `json:"room"`
	IsHost        bool                 `json:"is_host"`
	Pending       []models.Participant `json:"pending"`
	Accepted      []models.Participant `json:"accepted"`
	Paused        bool                 `json:"paused"`
	RoundEnded    bool                 `json:"round_ended"`
	Stale         bool                 `json:"stale"`
	StaleReason   string               `json:"stale_reason,omitempty"`
	FeedState     FeedState            `json:"feed_state"`
	Polling       bool                 `json:"polling"`
	Access        GuardState           `json:"access"`
	CountdownSecs int                  `json:"countdown_secs"`
	Claims        []models.PrizeClaim  `json:"claims"`
	Card          *bingo.Card          `json:"card,omitempty"`
}

// ViewEvent is one update pushed to the client.
type ViewEvent struct {
	Type      ViewEventType      `json:"type"`
	RoomID    string             `json:"room_id"`
	View      *View              `json:"view,omitempty"`
	Outcome   *models.PrizeClaim `json:"outcome,omitempty"`
	Redirect  *Redirect          `json:"redirect,omitempty"`
	FeedState FeedState          `json:"feed_state,omitempty"`
	At        time.Time          `json:"at"`
}

// Snapshot assembles the current view. It is safe to call from any
// goroutine.
func (s *Session) Snapshot() View {
	room, _ := s.mirror.Room()
	pending, accepted := s.mirror.Partition()
	stale, staleErr := s.mirror.Stale()

	v := View{
		Room:          room,
		IsHost:        s.IsHost(),
		Pending:       pending,
		Accepted:      accepted,
		Paused:        s.mirror.Paused(),
		RoundEnded:    s.mirror.RoundEnded(),
		Stale:         stale,
		FeedState:     s.feed.State(),
		Polling:       s.polling.Running(),
		Access:        s.guard.State(),
		CountdownSecs: int(Countdown(room, s.clock.Now()).Seconds()),
		Claims:        s.ledger.Claims(),
	}
	if staleErr != nil {
		v.StaleReason = staleErr.Error()
	}
	if v.IsHost {
		v.Access = GuardAuthorized
	}
	if card, ok := s.grids.Snapshot(); ok {
		v.Card = &card
	}
	return v
}

func decodePayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
