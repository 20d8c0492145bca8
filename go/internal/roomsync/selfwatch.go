package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/store"
	"github.com/rs/zerolog/log"
)

// SelfWatch follows the current user's own participant record through a
// dedicated feed topic backed by a periodic direct lookup. A removed or
// rejected record ends the session.
type SelfWatch struct {
	roomID string
	userID string
	feed   feed.Feed
	repo   *repository.Repository
	post   func(Message) bool
	poll   *ticker

	mu     sync.Mutex
	handle feed.Handle
	seen   bool
}

func NewSelfWatch(roomID, userID string, f feed.Feed, repo *repository.Repository,
	clock clockwork.Clock, interval time.Duration, post func(Message) bool) *SelfWatch {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &SelfWatch{
		roomID: roomID,
		userID: userID,
		feed:   f,
		repo:   repo,
		post:   post,
		poll:   newTicker(clock, interval, post, msgSelfPoll{}),
	}
}

// Start subscribes to the user topic and starts the lookup timer. The
// timer runs even if the subscription fails.
func (w *SelfWatch) Start(ctx context.Context) error {
	w.poll.Start()

	w.mu.Lock()
	if w.handle != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	topic := feed.UserTopic(w.roomID, w.userID)
	h, err := w.feed.Subscribe(ctx, topic, feed.Handlers{
		OnRowEvent: func(ev feed.RowEvent) {
			w.post(msgSelfRow{ev: ev})
		},
	})
	if err != nil {
		return &SubscriptionError{Topic: topic, Err: err}
	}
	w.mu.Lock()
	w.handle = h
	w.mu.Unlock()
	return nil
}

// Stop drops the subscription and the timer.
func (w *SelfWatch) Stop() {
	w.poll.Stop()
	w.mu.Lock()
	h := w.handle
	w.handle = nil
	w.mu.Unlock()
	if h != nil {
		if err := w.feed.Unsubscribe(h); err != nil {
			log.Warn().Err(err).Str("room_id", w.roomID).Msg("failed to drop self watch")
		}
	}
}

// MarkSeen notes that the record has existed, so a later absence means
// removal rather than a slow insert.
func (w *SelfWatch) MarkSeen() {
	w.mu.Lock()
	w.seen = true
	w.mu.Unlock()
}

// HandleRow inspects a change to the user's own record.
func (w *SelfWatch) HandleRow(ev feed.RowEvent) *Redirect {
	if ev.Table != store.TableParticipants {
		return nil
	}
	if ev.EventType == store.ChangeDelete {
		return &Redirect{Reason: RedirectRemoved}
	}
	if ev.New == nil || ev.New.String("user_id") != w.userID {
		return nil
	}
	if models.ParticipantStatus(ev.New.String("status")) == models.ParticipantStatusRejected {
		return &Redirect{Reason: RedirectRejected}
	}
	w.MarkSeen()
	return nil
}

// Poll looks the record up directly.
func (w *SelfWatch) Poll(ctx context.Context) *Redirect {
	p, err := w.repo.ParticipantByUser(ctx, w.roomID, w.userID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", w.roomID).Msg("self lookup failed")
		return nil
	}
	if p == nil {
		w.mu.Lock()
		seen := w.seen
		w.mu.Unlock()
		if seen {
			return &Redirect{Reason: RedirectRemoved}
		}
		return nil
	}
	if p.Status == models.ParticipantStatusRejected {
		return &Redirect{Reason: RedirectRejected}
	}
	w.MarkSeen()
	return nil
}
