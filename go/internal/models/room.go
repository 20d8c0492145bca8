package models

import (
	"time"
)

// RoomStatus defines the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

// CanTransition reports whether a room may move from s to next.
// Re-entering playing is allowed so a new round can start.
func (s RoomStatus) CanTransition(next RoomStatus) bool {
	switch s {
	case RoomStatusWaiting:
		return next == RoomStatusPlaying || next == RoomStatusFinished
	case RoomStatusPlaying:
		return next == RoomStatusPlaying || next == RoomStatusFinished
	default:
		return false
	}
}

// WinningPatterns holds the patterns enabled for a room.
type WinningPatterns struct {
	FullCard  bool `json:"full_card"`
	FiveInRow bool `json:"five_in_row"`
	Corners   bool `json:"corners"`
	Cross     bool `json:"cross"`
}

// Enabled reports whether the given pattern is switched on.
func (w WinningPatterns) Enabled(p Pattern) bool {
	switch p {
	case PatternFullCard:
		return w.FullCard
	case PatternFiveInRow:
		return w.FiveInRow
	case PatternCorners:
		return w.Corners
	case PatternCross:
		return w.Cross
	}
	return false
}

// DefaultWinningPatterns enables every pattern.
func DefaultWinningPatterns() WinningPatterns {
	return WinningPatterns{FullCard: true, FiveInRow: true, Corners: true, Cross: true}
}

// Room represents one bingo session.
type Room struct {
	ID                  string          `json:"id"`
	Code                string          `json:"code"`
	HostID              string          `json:"host_id"`
	Status              RoomStatus      `json:"status"`
	CurrentRound        int             `json:"current_round"`
	TotalRounds         int             `json:"total_rounds"`
	DrawIntervalSeconds int             `json:"draw_interval_seconds"`
	DrawnNumbers        []int           `json:"drawn_numbers"`
	PrizePool           int64           `json:"prize_pool"`
	LastDrawTimestamp   *time.Time      `json:"last_draw_timestamp,omitempty"`
	PlayerLimit         int             `json:"player_limit"`
	WinningPatterns     WinningPatterns `json:"winning_patterns"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the room.
func (r Room) Clone() Room {
	out := r
	out.DrawnNumbers = append([]int(nil), r.DrawnNumbers...)
	if r.LastDrawTimestamp != nil {
		ts := *r.LastDrawTimestamp
		out.LastDrawTimestamp = &ts
	}
	return out
}

// HasDrawn reports whether n is in the draw history.
func (r Room) HasDrawn(n int) bool {
	for _, d := range r.DrawnNumbers {
		if d == n {
			return true
		}
	}
	return false
}
