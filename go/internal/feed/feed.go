// Package feed is the push-based change notification transport: row
// events for rooms and participants plus ad-hoc broadcasts per room.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/bingolive/go/internal/store"
)

// Status is a subscription channel status reported by the transport.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Broadcast event names.
const (
	EventWinner = "winner"
	EventResume = "resume"
	EventPause  = "pause"
)

// RowEvent is a committed row change.
type RowEvent struct {
	Table     store.Table      `json:"table"`
	EventType store.ChangeType `json:"event_type"`
	Old       store.Record     `json:"old,omitempty"`
	New       store.Record     `json:"new,omitempty"`
}

// Broadcast is an arbitrary event sent to every subscriber of a topic.
type Broadcast struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handlers receive subscription callbacks. Any of them may be nil.
// Callbacks must not block.
type Handlers struct {
	OnRowEvent  func(RowEvent)
	OnBroadcast func(Broadcast)
	OnStatus    func(Status, error)
}

// Handle identifies one subscription.
type Handle interface {
	Topic() string
}

// Feed is the change feed contract.
type Feed interface {
	Subscribe(ctx context.Context, topic string, h Handlers) (Handle, error)
	Unsubscribe(h Handle) error
	Publish(ctx context.Context, topic, event string, payload any) error
}

// RoomTopic carries room rows, participant rows and broadcasts for a room.
func RoomTopic(roomID string) string {
	return fmt.Sprintf("room.%s", roomID)
}

// UserTopic carries participant rows for a single user in a room.
func UserTopic(roomID, userID string) string {
	return fmt.Sprintf("room.%s.user.%s", roomID, userID)
}

// TopicsFor lists the topics a row change is delivered to.
func TopicsFor(table store.Table, before, after store.Record) []string {
	rec := after
	if rec == nil {
		rec = before
	}
	switch table {
	case store.TableRooms:
		if id := rec.String("id"); id != "" {
			return []string{RoomTopic(id)}
		}
	case store.TableParticipants:
		roomID := rec.String("room_id")
		if roomID == "" {
			return nil
		}
		topics := []string{RoomTopic(roomID)}
		if userID := rec.String("user_id"); userID != "" {
			topics = append(topics, UserTopic(roomID, userID))
		}
		return topics
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
