package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultPollInterval = 3 * time.Second

// ticker posts msg to the bus on every tick until stopped. Start and Stop
// are idempotent, so a caller can never hold two timers.
type ticker struct {
	clock    clockwork.Clock
	interval time.Duration
	post     func(Message) bool
	msg      Message

	mu     sync.Mutex
	t      clockwork.Ticker
	stopCh chan struct{}
}

func newTicker(clock clockwork.Clock, interval time.Duration, post func(Message) bool, msg Message) *ticker {
	return &ticker{clock: clock, interval: interval, post: post, msg: msg}
}

func (t *ticker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil || t.interval <= 0 {
		return false
	}
	tk := t.clock.NewTicker(t.interval)
	stop := make(chan struct{})
	t.t, t.stopCh = tk, stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-tk.Chan():
				t.post(t.msg)
			}
		}
	}()
	return true
}

func (t *ticker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t == nil {
		return false
	}
	t.t.Stop()
	close(t.stopCh)
	t.t, t.stopCh = nil, nil
	return true
}

func (t *ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil
}

// PollingFallback re-reads the room and its participants on a fixed
// interval while the change feed is unhealthy.
type PollingFallback struct {
	*ticker
	mirror *RoomMirror
}

func NewPollingFallback(clock clockwork.Clock, interval time.Duration, mirror *RoomMirror, post func(Message) bool) *PollingFallback {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingFallback{ticker: newTicker(clock, interval, post, msgPollTick{}), mirror: mirror}
}

// Poll refreshes participants then the room. The feed state is checked by
// the caller; a tick that lands after recovery is ignored there.
func (p *PollingFallback) Poll(ctx context.Context) error {
	if err := p.mirror.RefreshParticipants(ctx); err != nil {
		return err
	}
	return p.mirror.RefreshRoom(ctx)
}
