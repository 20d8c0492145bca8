// Package store is the backing store contract for rooms, participants and
// their satellite tables, with an in-memory and a Postgres implementation.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Table names a logical table.
type Table string

const (
	TableRooms        Table = "rooms"
	TableParticipants Table = "participants"
	TableRoomBans     Table = "room_bans"
	TablePrizeClaims  Table = "prize_claims"
	TableProfiles     Table = "profiles"
)

// Record is one row keyed by column name.
type Record map[string]any

// Filter matches rows whose columns equal every given value.
type Filter map[string]any

// ChangeType is the kind of row mutation.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrEmptyFilter   = errors.New("filter must not be empty")
)

// Store is the persistent backing store.
type Store interface {
	// Get returns the first matching record, or nil when none matches.
	Get(ctx context.Context, table Table, filter Filter) (Record, error)
	List(ctx context.Context, table Table, filter Filter) ([]Record, error)
	// Upsert inserts rec or overwrites the row that conflicts on conflictKey.
	Upsert(ctx context.Context, table Table, rec Record, conflictKey []string) (Record, error)
	// Insert inserts rec unless a row already exists for conflictKey, in which
	// case the existing row is returned with inserted=false.
	Insert(ctx context.Context, table Table, rec Record, conflictKey []string) (Record, bool, error)
	// Increment adds by to column on the row identified by key, creating the
	// row with column = by when absent. The read and the write are one step.
	Increment(ctx context.Context, table Table, key Record, column string, by int64) (Record, error)
	Update(ctx context.Context, table Table, patch Record, filter Filter) error
	Delete(ctx context.Context, table Table, filter Filter) error
}

// Clone returns a shallow copy of r with slice values copied.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		switch s := v.(type) {
		case []int:
			out[k] = append([]int(nil), s...)
		case []any:
			out[k] = append([]any(nil), s...)
		default:
			out[k] = v
		}
	}
	return out
}

func checkTable(t Table) error {
	if _, ok := schemas[t]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, t)
	}
	return nil
}
