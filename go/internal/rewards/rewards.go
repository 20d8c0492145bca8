// Package rewards credits bonus score to winners' profiles.
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/bingolive/go/internal/store"
)

// Credit is one score bonus.
type Credit struct {
	UserID     string    `json:"user_id"`
	RoomID     string    `json:"room_id"`
	ClaimID    string    `json:"claim_id"`
	Amount     int64     `json:"amount"`
	CreditedAt time.Time `json:"credited_at"`
}

// Crediter applies or forwards a credit.
type Crediter interface {
	Credit(ctx context.Context, c Credit) error
}

// StoreCrediter adds credits directly to the profiles table.
type StoreCrediter struct {
	st store.Store
}

func NewStoreCrediter(st store.Store) *StoreCrediter {
	return &StoreCrediter{st: st}
}

func (s *StoreCrediter) Credit(ctx context.Context, c Credit) error {
	_, err := s.st.Increment(ctx, store.TableProfiles, store.Record{"user_id": c.UserID}, "score", c.Amount)
	if err != nil {
		return fmt.Errorf("credit profile %s: %w", c.UserID, err)
	}
	return nil
}
