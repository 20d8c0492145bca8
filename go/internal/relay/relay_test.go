package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/store"
)

type memOutbox struct {
	mu     sync.Mutex
	events map[uuid.UUID]OutboxEvent
	order  []uuid.UUID
}

func newMemOutbox(events ...OutboxEvent) *memOutbox {
	o := &memOutbox{events: make(map[uuid.UUID]OutboxEvent)}
	for _, ev := range events {
		o.events[ev.ID] = ev
		o.order = append(o.order, ev.ID)
	}
	return o
}

func (o *memOutbox) FetchByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ev, ok := o.events[id]
	if !ok {
		return OutboxEvent{}, ErrEventNotFound
	}
	return ev, nil
}

func (o *memOutbox) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxEvent
	for _, id := range o.order {
		if ev := o.events[id]; ev.SentAt == nil && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (o *memOutbox) MarkSent(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ev := o.events[id]
	now := time.Now()
	ev.SentAt = &now
	o.events[id] = ev
	return nil
}

func (o *memOutbox) CountPending(ctx context.Context) (int, error) {
	unsent, _ := o.FetchUnsent(ctx, len(o.order)+1)
	return len(unsent), nil
}

type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	published []uuid.UUID
}

func (p *fakePublisher) Publish(ctx context.Context, event OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures != 0 {
		p.failures--
		return errors.New("nats: timeout")
	}
	p.published = append(p.published, event.ID)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func participantEvent() OutboxEvent {
	return OutboxEvent{
		ID:        uuid.New(),
		RoomID:    "room-1",
		Table:     store.TableParticipants,
		EventType: store.ChangeUpdate,
		Old:       store.Record{"id": "p1", "room_id": "room-1", "user_id": "u1", "status": "pending"},
		New:       store.Record{"id": "p1", "room_id": "room-1", "user_id": "u1", "status": "accepted"},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 2
	return cfg
}

func TestHandleNotificationPublishesOnce(t *testing.T) {
	ctx := context.Background()
	ev := participantEvent()
	outbox := newMemOutbox(ev)
	pub := &fakePublisher{}
	r := NewRelay(outbox, pub, nil, testConfig())

	if err := r.HandleNotification(ctx, ev.ID.String()); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if err := r.HandleNotification(ctx, ev.ID.String()); err != nil {
		t.Fatalf("second HandleNotification: %v", err)
	}
	if got := pub.count(); got != 1 {
		t.Fatalf("published %d times, want 1", got)
	}
	if n, _ := outbox.CountPending(ctx); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	if processed, _ := r.Stats(); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestHandleNotificationBadPayload(t *testing.T) {
	r := NewRelay(newMemOutbox(), &fakePublisher{}, nil, testConfig())
	if err := r.HandleNotification(context.Background(), "not-a-uuid"); err == nil {
		t.Fatalf("expected an error for a malformed id")
	}
	err := r.HandleNotification(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
}

func TestPublishRetries(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  bool
		pending  int
	}{
		{"recovers within retries", 2, false, 0},
		{"gives up after retries", 3, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ev := participantEvent()
			outbox := newMemOutbox(ev)
			r := NewRelay(outbox, &fakePublisher{failures: tt.failures}, nil, testConfig())

			err := r.HandleNotification(ctx, ev.ID.String())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if n, _ := outbox.CountPending(ctx); n != tt.pending {
				t.Fatalf("pending = %d, want %d", n, tt.pending)
			}
		})
	}
}

func TestProcessUnsentSweepsBacklog(t *testing.T) {
	ctx := context.Background()
	outbox := newMemOutbox(participantEvent(), participantEvent(), participantEvent())
	pub := &fakePublisher{}
	cfg := testConfig()
	cfg.BatchSize = 2
	r := NewRelay(outbox, pub, nil, cfg)

	sent, err := r.ProcessUnsent(ctx)
	if err != nil || sent != 2 {
		t.Fatalf("first sweep = %d, %v; want 2", sent, err)
	}
	sent, err = r.ProcessUnsent(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("second sweep = %d, %v; want 1", sent, err)
	}
	if pub.count() != 3 {
		t.Fatalf("published %d, want 3", pub.count())
	}
}

func TestOutboxEventTopics(t *testing.T) {
	participant := participantEvent()
	got := participant.Topics()
	sort.Strings(got)
	want := []string{feed.RoomTopic("room-1"), feed.UserTopic("room-1", "u1")}
	sort.Strings(want)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("topics = %v, want %v", got, want)
	}

	room := OutboxEvent{Table: store.TableRooms, EventType: store.ChangeUpdate, New: store.Record{"id": "room-1"}}
	if got := room.Topics(); len(got) != 1 || got[0] != feed.RoomTopic("room-1") {
		t.Fatalf("room topics = %v", got)
	}
	deleted := OutboxEvent{Table: store.TableParticipants, EventType: store.ChangeDelete, Old: participant.Old}
	if got := deleted.Topics(); len(got) != 2 {
		t.Fatalf("delete topics = %v, want room and user topics", got)
	}
	if ev := deleted.RowEvent(); ev.New != nil || ev.Old.String("user_id") != "u1" {
		t.Fatalf("row event = %+v", ev)
	}
}

func TestHealthStalledRelay(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	first := participantEvent()
	outbox := newMemOutbox(first, participantEvent())
	r := NewRelay(outbox, &fakePublisher{}, clock, testConfig())
	if err := r.HandleNotification(ctx, first.ID.String()); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}

	h := NewHealthChecker(r, outbox, nil, func() bool { return true }, func() bool { return true }, time.Minute)
	if st := h.Check(ctx); !st.Healthy || st.PendingEvents != 1 {
		t.Fatalf("status = %+v, want healthy with one pending", st)
	}

	clock.Advance(2 * time.Minute)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
}

func TestStreamConfigCoversRoomSubjects(t *testing.T) {
	p := &JetStreamPublisher{config: JetStreamConfig{StreamName: "ROOMS", SubjectPrefix: "bingo", MaxAge: time.Hour, Replicas: 1}}
	sc := p.streamConfig()
	if len(sc.Subjects) != 1 || sc.Subjects[0] != "bingo.room.>" {
		t.Fatalf("Subjects = %v, want [bingo.room.>]", sc.Subjects)
	}
	// Row changes and client broadcasts use the same subjects, so both are
	// captured by the stream.
	for _, topic := range []string{feed.RoomTopic("r1"), feed.UserTopic("r1", "u1")} {
		subject := feed.Subject("bingo", topic)
		if !strings.HasPrefix(subject, "bingo.room.") {
			t.Fatalf("subject %s not covered by %s", subject, sc.Subjects[0])
		}
	}
	if !streamConfigEqual(sc, sc) {
		t.Fatalf("streamConfigEqual(sc, sc) = false")
	}
}
