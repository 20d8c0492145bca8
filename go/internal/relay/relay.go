// Package relay moves committed room and participant changes from the
// Postgres outbox onto the change feed subjects.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Publisher delivers one outbox event to the feed.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

type Config struct {
	NotifyChannel    string        `env:"RELAY_NOTIFY_CHANNEL" envDefault:"room_changes"`
	FallbackInterval time.Duration `env:"RELAY_FALLBACK_INTERVAL" envDefault:"30s"`
	PingInterval     time.Duration `env:"RELAY_PING_INTERVAL" envDefault:"90s"`
	MaxRetries       int           `env:"RELAY_MAX_RETRIES" envDefault:"5"`
	RetryDelay       time.Duration `env:"RELAY_RETRY_DELAY" envDefault:"200ms"`
	BatchSize        int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "room_changes",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		BatchSize:        100,
	}
}

// Relay publishes outbox events and marks them sent.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	clock     clockwork.Clock
	cfg       Config

	mu        sync.Mutex
	processed uint64
	lastEvent time.Time
}

func NewRelay(outbox Outbox, publisher Publisher, clock clockwork.Clock, cfg Config) *Relay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Relay{outbox: outbox, publisher: publisher, clock: clock, cfg: cfg}
}

// HandleNotification relays the event whose id is the NOTIFY payload.
func (r *Relay) HandleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event id in notification: %w", err)
	}
	event, err := r.outbox.FetchByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch outbox event: %w", err)
	}
	if event.SentAt != nil {
		return nil
	}
	return r.deliver(ctx, event)
}

// ProcessUnsent relays a batch of events the notifications missed. A failed
// event is logged and left for the next pass.
func (r *Relay) ProcessUnsent(ctx context.Context) (int, error) {
	unsent, err := r.outbox.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	sent := 0
	for _, event := range unsent {
		if err := r.deliver(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to relay event")
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) deliver(ctx context.Context, event OutboxEvent) error {
	if err := r.publishWithRetry(ctx, event); err != nil {
		return err
	}
	if err := r.outbox.MarkSent(ctx, event.ID); err != nil {
		return err
	}

	r.mu.Lock()
	r.processed++
	r.lastEvent = r.clock.Now()
	r.mu.Unlock()

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("room_id", event.RoomID).
		Str("table", string(event.Table)).
		Msg("relayed row change")
	return nil
}

func (r *Relay) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}
		if attempt > 0 {
			log.Info().Int("attempt", attempt+1).Str("event_id", event.ID.String()).Msg("publish succeeded after retry")
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

// Stats returns the number of relayed events and when the last one went out.
func (r *Relay) Stats() (uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.lastEvent
}
