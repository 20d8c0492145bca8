package roomsync

import (
	"context"
	"sync"

	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/store"
	"github.com/rs/zerolog/log"
)

// FeedState is the change feed subscription lifecycle.
type FeedState string

const (
	FeedIdle        FeedState = "IDLE"
	FeedSubscribing FeedState = "SUBSCRIBING"
	FeedSubscribed  FeedState = "SUBSCRIBED"
	FeedError       FeedState = "ERROR"
)

// ChangeFeedClient holds the room's single feed subscription and routes
// its row events into the mirror. Callbacks are posted to the session bus
// tagged with a generation so that deliveries from a replaced
// subscription are ignored.
type ChangeFeedClient struct {
	feed   feed.Feed
	roomID string
	topic  string
	mirror *RoomMirror
	post   func(Message) bool

	mu     sync.Mutex
	state  FeedState
	handle feed.Handle
	gen    int
}

func NewChangeFeedClient(f feed.Feed, roomID string, mirror *RoomMirror, post func(Message) bool) *ChangeFeedClient {
	return &ChangeFeedClient{
		feed:   f,
		roomID: roomID,
		topic:  feed.RoomTopic(roomID),
		mirror: mirror,
		post:   post,
		state:  FeedIdle,
	}
}

func (c *ChangeFeedClient) State() FeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe opens the room subscription. It is a no-op while a
// subscription is being established or is live; from ERROR it replaces the
// failed subscription.
func (c *ChangeFeedClient) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.state == FeedSubscribing || c.state == FeedSubscribed {
		c.mu.Unlock()
		return nil
	}
	old := c.handle
	c.handle = nil
	c.gen++
	gen := c.gen
	c.state = FeedSubscribing
	c.mu.Unlock()

	if old != nil {
		if err := c.feed.Unsubscribe(old); err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("failed to drop previous subscription")
		}
	}

	h, err := c.feed.Subscribe(ctx, c.topic, feed.Handlers{
		OnRowEvent: func(ev feed.RowEvent) {
			c.post(msgRowEvent{gen: gen, ev: ev})
		},
		OnBroadcast: func(b feed.Broadcast) {
			c.post(msgBroadcast{gen: gen, b: b})
		},
		OnStatus: func(s feed.Status, err error) {
			c.post(msgFeedStatus{gen: gen, status: s, err: err})
		},
	})

	c.mu.Lock()
	if gen != c.gen {
		// Unsubscribed while the call was in flight.
		c.mu.Unlock()
		if h != nil {
			_ = c.feed.Unsubscribe(h)
		}
		return nil
	}
	if err != nil {
		c.state = FeedError
		c.mu.Unlock()
		return &SubscriptionError{Topic: c.topic, Err: err}
	}
	c.handle = h
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops the subscription and returns to IDLE.
func (c *ChangeFeedClient) Unsubscribe() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.gen++
	c.state = FeedIdle
	c.mu.Unlock()

	if h != nil {
		if err := c.feed.Unsubscribe(h); err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("failed to unsubscribe")
		}
	}
}

// Current reports whether gen belongs to the live subscription.
func (c *ChangeFeedClient) Current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.state != FeedIdle
}

// HandleStatus applies a transport status report and returns the new
// state and whether it changed.
func (c *ChangeFeedClient) HandleStatus(gen int, status feed.Status, err error) (FeedState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == FeedIdle {
		return c.state, false
	}
	prev := c.state
	switch status {
	case feed.StatusSubscribed:
		c.state = FeedSubscribed
	case feed.StatusChannelError, feed.StatusTimedOut, feed.StatusClosed:
		c.state = FeedError
		log.Warn().Err(err).Str("room_id", c.roomID).Str("status", string(status)).Msg("change feed unhealthy")
	default:
		return c.state, false
	}
	return c.state, prev != c.state
}

// MarkError forces the ERROR state after a failed Subscribe.
func (c *ChangeFeedClient) MarkError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != FeedIdle {
		c.state = FeedError
	}
}

// HandleRow routes a row event. Room updates are applied as patches;
// any participant change triggers a full participant refresh.
func (c *ChangeFeedClient) HandleRow(ctx context.Context, gen int, ev feed.RowEvent) error {
	if !c.Current(gen) {
		return nil
	}
	switch ev.Table {
	case store.TableRooms:
		if ev.New == nil || ev.New.String("id") != c.roomID {
			return nil
		}
		patch, err := repository.PatchFromRecord(ev.New)
		if err != nil {
			return &SyncError{Op: "apply room event", Err: err}
		}
		c.mirror.ApplyPatch(patch)
	case store.TableParticipants:
		return c.mirror.RefreshParticipants(ctx)
	}
	return nil
}
