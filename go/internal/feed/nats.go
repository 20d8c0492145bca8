package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Envelope kinds.
const (
	KindRow       = "row"
	KindBroadcast = "broadcast"
)

// Envelope is the wire format on NATS subjects.
type Envelope struct {
	Kind      string     `json:"kind"`
	Row       *RowEvent  `json:"row,omitempty"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
	SentAt    time.Time  `json:"sent_at"`
}

// NATSConfig configures the NATS feed.
type NATSConfig struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	SubjectPrefix string        `env:"FEED_SUBJECT_PREFIX" envDefault:"bingo"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	FlushTimeout  time.Duration `env:"NATS_FLUSH_TIMEOUT" envDefault:"2s"`
}

// Subject maps a topic to its NATS subject.
func Subject(prefix, topic string) string {
	return fmt.Sprintf("%s.%s", prefix, topic)
}

type natsSub struct {
	topic string
	sub   *nats.Subscription
	h     Handlers
}

func (s *natsSub) Topic() string { return s.topic }

// NATS is a Feed over core NATS subjects. Row events reach these subjects
// through the relay's JetStream stream; broadcasts are plain publishes.
type NATS struct {
	nc  *nats.Conn
	cfg NATSConfig

	mu   sync.Mutex
	subs map[*natsSub]struct{}
}

// NewNATS connects to the server and reports connection changes to every
// live subscription.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	f := &NATS{cfg: cfg, subs: make(map[*natsSub]struct{})}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			f.notifyAll(StatusChannelError, err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			f.notifyAll(StatusSubscribed, nil)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			f.notifyAll(StatusClosed, nil)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
			f.notifySubject(sub, err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	f.nc = nc
	return f, nil
}

func (f *NATS) Subscribe(ctx context.Context, topic string, h Handlers) (Handle, error) {
	s := &natsSub{topic: topic, h: h}
	subject := Subject(f.cfg.SubjectPrefix, topic)

	sub, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed feed message")
			return
		}
		switch env.Kind {
		case KindRow:
			if env.Row != nil && h.OnRowEvent != nil {
				h.OnRowEvent(*env.Row)
			}
		case KindBroadcast:
			if env.Broadcast != nil && h.OnBroadcast != nil {
				h.OnBroadcast(*env.Broadcast)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := f.nc.FlushTimeout(f.cfg.FlushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscribe %s: %w", subject, err)
	}
	s.sub = sub

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	log.Debug().Str("subject", subject).Msg("feed subscribed")
	if h.OnStatus != nil {
		h.OnStatus(StatusSubscribed, nil)
	}
	return s, nil
}

func (f *NATS) Unsubscribe(h Handle) error {
	s, ok := h.(*natsSub)
	if !ok || s == nil {
		return nil
	}
	f.mu.Lock()
	_, live := f.subs[s]
	delete(f.subs, s)
	f.mu.Unlock()
	if !live {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("unsubscribe %s: %w", s.topic, err)
	}
	return nil
}

func (f *NATS) Publish(ctx context.Context, topic, event string, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{
		Kind:      KindBroadcast,
		Broadcast: &Broadcast{Event: event, Payload: raw},
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := Subject(f.cfg.SubjectPrefix, topic)
	if err := f.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection.
func (f *NATS) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}

// Connected reports whether the connection is up.
func (f *NATS) Connected() bool {
	return f.nc != nil && f.nc.IsConnected()
}

func (f *NATS) snapshot() []*natsSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*natsSub, 0, len(f.subs))
	for s := range f.subs {
		out = append(out, s)
	}
	return out
}

func (f *NATS) notifyAll(status Status, err error) {
	for _, s := range f.snapshot() {
		if s.h.OnStatus != nil {
			s.h.OnStatus(status, err)
		}
	}
}

func (f *NATS) notifySubject(sub *nats.Subscription, err error) {
	if sub == nil {
		return
	}
	for _, s := range f.snapshot() {
		if s.sub == sub && s.h.OnStatus != nil {
			s.h.OnStatus(StatusChannelError, err)
		}
	}
}
