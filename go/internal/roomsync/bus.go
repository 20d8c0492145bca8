package roomsync

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/models"
)

var errBusClosed = errors.New("bus closed")

// Message is anything a session processes on its loop.
type Message interface {
	message()
}

type (
	msgRowEvent struct {
		gen int
		ev  feed.RowEvent
	}
	msgBroadcast struct {
		gen int
		b   feed.Broadcast
	}
	msgFeedStatus struct {
		gen    int
		status feed.Status
		err    error
	}
	msgMirrorUpdated struct {
		change MirrorChange
	}
	msgPollTick            struct{}
	msgRefreshParticipants struct{}
	msgGuardRetry          struct{}
	msgSelfRow             struct{ ev feed.RowEvent }
	msgSelfPoll            struct{}
	msgCadenceTick         struct{}
	msgOutcome             struct{ claim models.PrizeClaim }
	msgAction              struct {
		fn    func(ctx context.Context) error
		reply chan error
	}
)

func (msgRowEvent) message()            {}
func (msgBroadcast) message()           {}
func (msgFeedStatus) message()          {}
func (msgMirrorUpdated) message()       {}
func (msgPollTick) message()            {}
func (msgRefreshParticipants) message() {}
func (msgGuardRetry) message()          {}
func (msgSelfRow) message()             {}
func (msgSelfPoll) message()            {}
func (msgCadenceTick) message()         {}
func (msgOutcome) message()             {}
func (msgAction) message()              {}

// Bus is an unbounded FIFO of messages for one session. Post never
// blocks, so feed callbacks and timers can hand work to the loop from any
// goroutine.
type Bus struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	wakeCh chan struct{}
}

func NewBus() *Bus {
	return &Bus{wakeCh: make(chan struct{}, 1)}
}

// Post enqueues m. It returns false once the bus is closed.
func (b *Bus) Post(m Message) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
	return true
}

func (b *Bus) pop() (Message, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false, true
	}
	if len(b.queue) == 0 {
		return nil, false, false
	}
	m := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return m, true, false
}

// Next blocks until a message is available, the bus is closed or ctx ends.
func (b *Bus) Next(ctx context.Context) (Message, error) {
	for {
		m, ok, closed := b.pop()
		if closed {
			return nil, errBusClosed
		}
		if ok {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.wakeCh:
		}
	}
}

// Len returns the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close drops queued messages and wakes any waiter.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.queue = nil
	b.mu.Unlock()

	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}
