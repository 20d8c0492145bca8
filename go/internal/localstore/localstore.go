// Package localstore persists per-device game state: grids, marks and the
// claim ledger. Values are stored as JSON under string keys.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store is a small JSON key-value store.
type Store interface {
	// Load decodes the value at key into dst and reports whether it existed.
	Load(ctx context.Context, key string, dst any) (bool, error)
	Save(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// GridKey names the saved grid of a player for one round.
func GridKey(roomID, userID string, round int) string {
	return fmt.Sprintf("bingo:grid:%s:%s:%d", roomID, userID, round)
}

// MarksKey names the saved marks of a player for one round.
func MarksKey(roomID, userID string, round int) string {
	return fmt.Sprintf("bingo:marks:%s:%s:%d", roomID, userID, round)
}

// LedgerKey names the saved claim ledger of a player in a room.
func LedgerKey(roomID, userID string) string {
	return fmt.Sprintf("bingo:ledger:%s:%s", roomID, userID)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
