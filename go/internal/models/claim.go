package models

import "time"

// Pattern is a named marking shape that qualifies for a prize.
type Pattern string

const (
	PatternFullCard  Pattern = "full_card"
	PatternFiveInRow Pattern = "five_in_row"
	PatternCorners   Pattern = "corners"
	PatternCross     Pattern = "cross"
)

// Patterns lists every pattern in precedence order.
var Patterns = []Pattern{PatternFullCard, PatternFiveInRow, PatternCross, PatternCorners}

// IsSecondary reports whether p competes for the round's single secondary prize.
func (p Pattern) IsSecondary() bool {
	return p == PatternFiveInRow || p == PatternCorners || p == PatternCross
}

// Valid reports whether p is a known pattern.
func (p Pattern) Valid() bool {
	switch p {
	case PatternFullCard, PatternFiveInRow, PatternCorners, PatternCross:
		return true
	}
	return false
}

// PrizeSlot groups patterns that share one award per round.
type PrizeSlot string

const (
	PrizeSlotFullCard  PrizeSlot = "full_card"
	PrizeSlotSecondary PrizeSlot = "secondary"
)

// Slot returns the prize slot the pattern competes for.
func (p Pattern) Slot() PrizeSlot {
	if p == PatternFullCard {
		return PrizeSlotFullCard
	}
	return PrizeSlotSecondary
}

// PrizeClaim is an admitted win.
type PrizeClaim struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"room_id"`
	WinnerID       string    `json:"winner_id"`
	WinnerName     string    `json:"winner_name"`
	Pattern        Pattern   `json:"pattern"`
	Prize          int64     `json:"prize"`
	Round          int       `json:"round"`
	WinningNumbers []int     `json:"winning_numbers"`
	ClaimedAt      time.Time `json:"claimed_at"`
}
