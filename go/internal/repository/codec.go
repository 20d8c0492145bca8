package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/store"
)

var ErrMalformed = errors.New("malformed record")

// RoomFromRecord decodes a rooms row, defaulting nullable fields.
func RoomFromRecord(rec store.Record) (models.Room, error) {
	var room models.Room
	if rec == nil {
		return room, fmt.Errorf("%w: nil room", ErrMalformed)
	}
	room.ID = rec.String("id")
	if room.ID == "" {
		return room, fmt.Errorf("%w: room without id", ErrMalformed)
	}
	room.Code = rec.String("code")
	room.HostID = rec.String("host_id")
	room.Status = models.RoomStatus(rec.String("status"))
	if room.Status == "" {
		room.Status = models.RoomStatusWaiting
	}

	var err error
	if room.CurrentRound, err = rec.Int("current_round"); err != nil {
		return room, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if room.TotalRounds, err = rec.Int("total_rounds"); err != nil {
		return room, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if room.DrawIntervalSeconds, err = rec.Int("draw_interval_seconds"); err != nil {
		return room, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if room.PrizePool, err = rec.Int64("prize_pool"); err != nil {
		return room, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if room.PlayerLimit, err = rec.Int("player_limit"); err != nil {
		return room, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if room.LastDrawTimestamp, err = rec.Time("last_draw_timestamp"); err != nil {
		return room, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if created, err := rec.Time("created_at"); err == nil && created != nil {
		room.CreatedAt = *created
	}
	room.DrawnNumbers = bingo.Drawn(rec.Ints("drawn_numbers"))

	room.WinningPatterns = models.DefaultWinningPatterns()
	if rec.Has("winning_patterns") && rec["winning_patterns"] != nil {
		var wp models.WinningPatterns
		if err := rec.JSON("winning_patterns", &wp); err != nil {
			return room, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		room.WinningPatterns = wp
	}
	return room, nil
}

// RoomToRecord encodes a room for insertion.
func RoomToRecord(room models.Room) store.Record {
	rec := store.Record{
		"id":                    room.ID,
		"code":                  room.Code,
		"host_id":               room.HostID,
		"status":                string(room.Status),
		"current_round":         room.CurrentRound,
		"total_rounds":          room.TotalRounds,
		"draw_interval_seconds": room.DrawIntervalSeconds,
		"drawn_numbers":         append([]int{}, room.DrawnNumbers...),
		"prize_pool":            room.PrizePool,
		"player_limit":          room.PlayerLimit,
		"winning_patterns":      room.WinningPatterns,
		"last_draw_timestamp":   nil,
	}
	if room.LastDrawTimestamp != nil {
		rec["last_draw_timestamp"] = *room.LastDrawTimestamp
	}
	if !room.CreatedAt.IsZero() {
		rec["created_at"] = room.CreatedAt
	}
	return rec
}

// RoomPatch is a partial room update; nil fields are left untouched.
type RoomPatch struct {
	DrawnNumbers      *[]int
	Status            *models.RoomStatus
	CurrentRound      *int
	LastDrawTimestamp **time.Time
	PrizePool         *int64
}

// PatchFromRecord builds a patch from the fields present in rec.
func PatchFromRecord(rec store.Record) (RoomPatch, error) {
	var p RoomPatch
	if rec.Has("drawn_numbers") {
		drawn := bingo.Drawn(rec.Ints("drawn_numbers"))
		p.DrawnNumbers = &drawn
	}
	if rec.Has("status") {
		if s := models.RoomStatus(rec.String("status")); s != "" {
			p.Status = &s
		}
	}
	if rec.Has("current_round") {
		round, err := rec.Int("current_round")
		if err != nil {
			return p, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p.CurrentRound = &round
	}
	if rec.Has("last_draw_timestamp") {
		ts, err := rec.Time("last_draw_timestamp")
		if err != nil {
			return p, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p.LastDrawTimestamp = &ts
	}
	if rec.Has("prize_pool") {
		pool, err := rec.Int64("prize_pool")
		if err != nil {
			return p, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p.PrizePool = &pool
	}
	return p, nil
}

// Empty reports whether the patch changes nothing.
func (p RoomPatch) Empty() bool {
	return p.DrawnNumbers == nil && p.Status == nil && p.CurrentRound == nil &&
		p.LastDrawTimestamp == nil && p.PrizePool == nil
}

// Apply merges the patch onto room.
func (p RoomPatch) Apply(room *models.Room) {
	if p.DrawnNumbers != nil {
		room.DrawnNumbers = append([]int{}, (*p.DrawnNumbers)...)
	}
	if p.Status != nil {
		room.Status = *p.Status
	}
	if p.CurrentRound != nil {
		room.CurrentRound = *p.CurrentRound
	}
	if p.LastDrawTimestamp != nil {
		if *p.LastDrawTimestamp == nil {
			room.LastDrawTimestamp = nil
		} else {
			ts := **p.LastDrawTimestamp
			room.LastDrawTimestamp = &ts
		}
	}
	if p.PrizePool != nil {
		room.PrizePool = *p.PrizePool
	}
}

// ParticipantFromRecord decodes a participants row.
func ParticipantFromRecord(rec store.Record) (models.Participant, error) {
	p := models.Participant{
		ID:          rec.String("id"),
		RoomID:      rec.String("room_id"),
		UserID:      rec.String("user_id"),
		DisplayName: rec.String("display_name"),
		Status:      models.ParticipantStatus(rec.String("status")),
	}
	if p.ID == "" || p.UserID == "" {
		return p, fmt.Errorf("%w: participant without id", ErrMalformed)
	}
	if p.Status == "" {
		p.Status = models.ParticipantStatusPending
	}
	if joined, err := rec.Time("joined_at"); err == nil && joined != nil {
		p.JoinedAt = *joined
	}
	return p, nil
}

// ParticipantToRecord encodes a participant.
func ParticipantToRecord(p models.Participant) store.Record {
	rec := store.Record{
		"id":           p.ID,
		"room_id":      p.RoomID,
		"user_id":      p.UserID,
		"display_name": p.DisplayName,
		"status":       string(p.Status),
	}
	if !p.JoinedAt.IsZero() {
		rec["joined_at"] = p.JoinedAt
	}
	return rec
}

// ClaimToRecord encodes a prize claim with its slot.
func ClaimToRecord(c models.PrizeClaim) store.Record {
	return store.Record{
		"id":              c.ID,
		"room_id":         c.RoomID,
		"round_number":    c.Round,
		"prize_slot":      string(c.Pattern.Slot()),
		"winner_id":       c.WinnerID,
		"winner_name":     c.WinnerName,
		"pattern":         string(c.Pattern),
		"prize":           c.Prize,
		"winning_numbers": append([]int{}, c.WinningNumbers...),
		"claimed_at":      c.ClaimedAt,
	}
}

// ClaimFromRecord decodes a prize_claims row.
func ClaimFromRecord(rec store.Record) (models.PrizeClaim, error) {
	c := models.PrizeClaim{
		ID:             rec.String("id"),
		RoomID:         rec.String("room_id"),
		WinnerID:       rec.String("winner_id"),
		WinnerName:     rec.String("winner_name"),
		Pattern:        models.Pattern(rec.String("pattern")),
		WinningNumbers: rec.Ints("winning_numbers"),
	}
	if c.ID == "" || !c.Pattern.Valid() {
		return c, fmt.Errorf("%w: prize claim", ErrMalformed)
	}
	var err error
	if c.Round, err = rec.Int("round_number"); err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Prize, err = rec.Int64("prize"); err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ts, err := rec.Time("claimed_at"); err == nil && ts != nil {
		c.ClaimedAt = *ts
	}
	return c, nil
}
