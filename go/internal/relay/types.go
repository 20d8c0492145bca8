package relay

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/store"
)

// OutboxEvent is one committed row change waiting to be relayed.
type OutboxEvent struct {
	ID        uuid.UUID        `json:"id"`
	RoomID    string           `json:"room_id"`
	Table     store.Table      `json:"table_name"`
	EventType store.ChangeType `json:"event_type"`
	Old       store.Record     `json:"old_row,omitempty"`
	New       store.Record     `json:"new_row,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	SentAt    *time.Time       `json:"sent_at,omitempty"`
}

func (e OutboxEvent) RowEvent() feed.RowEvent {
	return feed.RowEvent{Table: e.Table, EventType: e.EventType, Old: e.Old, New: e.New}
}

// Topics lists the feed topics the change is delivered to.
func (e OutboxEvent) Topics() []string {
	return feed.TopicsFor(e.Table, e.Old, e.New)
}
