package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Listener wakes the relay on Postgres NOTIFY and sweeps the outbox on a
// fallback interval.
type Listener struct {
	relay    *Relay
	listener *pq.Listener
	cfg      Config
	running  atomic.Bool
}

func NewListener(dsn string, relay *Relay, cfg Config) (*Listener, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Msg("listener event")
		}
	})
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}
	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for notifications")
	return &Listener{relay: relay, listener: l, cfg: cfg}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Catch up on anything written while the relay was down.
	if _, err := l.relay.ProcessUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.listener.Close()
		case note := <-l.listener.Notify:
			if note == nil {
				// The connection was re-established; notifications may have been lost.
				if _, err := l.relay.ProcessUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := l.relay.HandleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if _, err := l.relay.ProcessUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Running() bool {
	return l.running.Load()
}
