package roomsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/localstore"
)

// GridKeeper owns the current user's card. Each round gets its own grid,
// generated once and then reloaded from local storage together with its
// marks.
type GridKeeper struct {
	local  localstore.Store
	rng    bingo.Rand
	roomID string
	userID string

	mu    sync.Mutex
	round int
	card  *bingo.Card
}

func NewGridKeeper(local localstore.Store, rng bingo.Rand, roomID, userID string) *GridKeeper {
	return &GridKeeper{local: local, rng: rng, roomID: roomID, userID: userID}
}

// Card returns the card for round, creating and saving it on first use.
func (k *GridKeeper) Card(ctx context.Context, round int) (*bingo.Card, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cardLocked(ctx, round)
}

func (k *GridKeeper) cardLocked(ctx context.Context, round int) (*bingo.Card, error) {
	if k.card != nil && k.round == round {
		return k.card, nil
	}

	var grid bingo.Grid
	found, err := k.local.Load(ctx, localstore.GridKey(k.roomID, k.userID, round), &grid)
	if err != nil {
		return nil, fmt.Errorf("load grid: %w", err)
	}
	if found && grid.Validate() != nil {
		found = false
	}
	if !found {
		grid = bingo.NewGrid(k.rng)
		if err := k.local.Save(ctx, localstore.GridKey(k.roomID, k.userID, round), grid); err != nil {
			return nil, fmt.Errorf("save grid: %w", err)
		}
	}

	card := bingo.NewCard(grid)
	var marks []int
	if ok, err := k.local.Load(ctx, localstore.MarksKey(k.roomID, k.userID, round), &marks); err != nil {
		return nil, fmt.Errorf("load marks: %w", err)
	} else if ok {
		for _, v := range marks {
			if grid.Contains(v) {
				card.Marks[v] = true
			}
		}
	}

	k.round, k.card = round, card
	return card, nil
}

// Toggle flips a mark on the round's card and saves the mark set.
func (k *GridKeeper) Toggle(ctx context.Context, round, n int, drawn []int) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	card, err := k.cardLocked(ctx, round)
	if err != nil {
		return false, err
	}
	marked, err := card.Toggle(n, drawn)
	if err != nil {
		return false, err
	}
	if err := k.local.Save(ctx, localstore.MarksKey(k.roomID, k.userID, round), card.Marks.Values()); err != nil {
		return marked, fmt.Errorf("save marks: %w", err)
	}
	return marked, nil
}

// Snapshot returns a copy of the cached card, if any.
func (k *GridKeeper) Snapshot() (bingo.Card, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.card == nil {
		return bingo.Card{}, false
	}
	marks := make(bingo.Marks, len(k.card.Marks))
	for v, ok := range k.card.Marks {
		marks[v] = ok
	}
	return bingo.Card{Grid: k.card.Grid, Marks: marks}, true
}
