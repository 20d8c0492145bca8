package roomsync

import (
	"sync"

	"github.com/mcdev12/bingolive/go/internal/models"
)

// ClaimLedger is the per-round record of applied prize outcomes. It holds
// at most one full card claim and one secondary claim per round.
type ClaimLedger struct {
	mu     sync.RWMutex
	round  int
	claims []models.PrizeClaim
}

// ledgerState is the persisted form of a ledger.
type ledgerState struct {
	Round  int                 `json:"round"`
	Claims []models.PrizeClaim `json:"claims"`
}

func NewClaimLedger(round int) *ClaimLedger {
	return &ClaimLedger{round: round}
}

func (l *ClaimLedger) Round() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.round
}

// Reset clears the ledger for a new round.
func (l *ClaimLedger) Reset(round int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.round = round
	l.claims = nil
}

// Has reports whether winner already holds pattern this round.
func (l *ClaimLedger) Has(p models.Pattern, winnerID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.claims {
		if c.Pattern == p && c.WinnerID == winnerID {
			return true
		}
	}
	return false
}

func (l *ClaimLedger) slotTaken(slot models.PrizeSlot) bool {
	for _, c := range l.claims {
		if c.Pattern.Slot() == slot {
			return true
		}
	}
	return false
}

func (l *ClaimLedger) SecondaryAwarded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slotTaken(models.PrizeSlotSecondary)
}

func (l *ClaimLedger) FullCardAwarded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slotTaken(models.PrizeSlotFullCard)
}

// Record applies c unless it is a repeat of a known claim or its slot is
// already filled. The first claim applied for a slot stays.
func (l *ClaimLedger) Record(c models.PrizeClaim) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c.Round != l.round {
		return false
	}
	for _, existing := range l.claims {
		if existing.ID == c.ID {
			return false
		}
		if existing.Pattern == c.Pattern && existing.WinnerID == c.WinnerID {
			return false
		}
	}
	if l.slotTaken(c.Pattern.Slot()) {
		return false
	}
	l.claims = append(l.claims, c)
	return true
}

func (l *ClaimLedger) Claims() []models.PrizeClaim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.PrizeClaim(nil), l.claims...)
}

func (l *ClaimLedger) state() ledgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ledgerState{Round: l.round, Claims: append([]models.PrizeClaim(nil), l.claims...)}
}

func (l *ClaimLedger) restore(s ledgerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.round = s.Round
	l.claims = append([]models.PrizeClaim(nil), s.Claims...)
}
