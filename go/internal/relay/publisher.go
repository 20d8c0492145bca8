package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bingolive/go/internal/feed"
)

type JetStreamConfig struct {
	URL             string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	StreamName      string        `env:"RELAY_STREAM" envDefault:"BINGO_ROOM_CHANGES"`
	SubjectPrefix   string        `env:"FEED_SUBJECT_PREFIX" envDefault:"bingo"`
	MaxReconnects   int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	ReconnectWait   time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	MaxAge          time.Duration `env:"RELAY_STREAM_MAX_AGE" envDefault:"24h"`
	MaxMsgs         int64         `env:"RELAY_STREAM_MAX_MSGS" envDefault:"-1"`
	Replicas        int           `env:"RELAY_STREAM_REPLICAS" envDefault:"1"`
	DuplicateWindow time.Duration `env:"RELAY_DUPLICATE_WINDOW" envDefault:"2h"`
}

// JetStreamPublisher writes row envelopes to the room subjects through a
// JetStream stream, so a redelivered outbox row is dropped by the server.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Room row changes relayed from the outbox and client broadcasts",
		Subjects:    []string{fmt.Sprintf("%s.room.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := p.streamConfig()
	stream, err := p.js.Stream(ctx, sc.Name)
	if err != nil {
		if _, err := p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("created JetStream stream")
		return nil
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !streamConfigEqual(info.Config, sc) {
		if _, err := p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("updated JetStream stream")
	}
	return nil
}

// Publish sends the change to every topic it belongs to. Client broadcasts
// share these subjects, so the stream retains them alongside row changes
// within the same MaxAge and MaxMsgs limits.
func (p *JetStreamPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	row := event.RowEvent()
	data, err := json.Marshal(feed.Envelope{Kind: feed.KindRow, Row: &row, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	for _, topic := range event.Topics() {
		subject := feed.Subject(p.config.SubjectPrefix, topic)
		ack, err := p.js.PublishMsg(ctx, &nats.Msg{
			Subject: subject,
			Data:    data,
			Header: nats.Header{
				"Event-Type": []string{string(event.EventType)},
				"Room-ID":    []string{event.RoomID},
				"Event-ID":   []string{event.ID.String()},
			},
		},
			jetstream.WithMsgID(event.ID.String()+":"+topic),
			jetstream.WithExpectStream(p.config.StreamName),
		)
		if err != nil {
			return fmt.Errorf("publish %s to JetStream: %w", subject, err)
		}
		log.Debug().
			Str("subject", subject).
			Str("event_id", event.ID.String()).
			Uint64("sequence", ack.Sequence).
			Bool("duplicate", ack.Duplicate).
			Msg("published to JetStream")
	}
	return nil
}

func (p *JetStreamPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func streamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates &&
		len(a.Subjects) == len(b.Subjects) &&
		(len(a.Subjects) == 0 || a.Subjects[0] == b.Subjects[0])
}
