package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bingolive/go/internal/dbconfig"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/identity"
	"github.com/mcdev12/bingolive/go/internal/localstore"
	"github.com/mcdev12/bingolive/go/internal/rewards"
	"github.com/mcdev12/bingolive/go/internal/store"
)

// Services holds the backends a room session runs on.
type Services struct {
	Store    store.Store
	Feed     feed.Feed
	Local    localstore.Store
	Crediter rewards.Crediter
	Identity identity.Provider

	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupServices(ctx context.Context, cfg Config) (*Services, error) {
	svc := &Services{}
	fail := func(err error) (*Services, error) {
		svc.Close()
		return nil, err
	}

	// Identity
	if cfg.Token == "" || cfg.TokenSecret == "" {
		return nil, fmt.Errorf("BINGO_TOKEN and BINGO_TOKEN_SECRET are required")
	}
	id, err := identity.NewJWT(cfg.Token, cfg.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	svc.Identity = id

	// Store
	switch cfg.StoreDriver {
	case "postgres":
		dbCfg, err := dbconfig.NewConfigFromEnv()
		if err != nil {
			return fail(err)
		}
		db, err := dbconfig.Open(dbCfg)
		if err != nil {
			return fail(err)
		}
		svc.closers = append(svc.closers, func() { closeDB(db) })
		svc.Store = store.NewPostgres(db)
	case "memory":
		log.Warn().Msg("using the in-memory store; state is not shared with other clients")
		svc.Store = store.NewMemory()
	default:
		return fail(fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver))
	}

	// Change feed
	nf, err := feed.NewNATS(cfg.NATS)
	if err != nil {
		return fail(err)
	}
	svc.closers = append(svc.closers, nf.Close)
	svc.Feed = nf

	// Local state
	switch cfg.LocalDriver {
	case "redis":
		r, err := localstore.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		svc.closers = append(svc.closers, func() { _ = r.Close() })
		svc.Local = r
	case "memory":
		svc.Local = localstore.NewMemory()
	default:
		return fail(fmt.Errorf("unknown LOCAL_STORE %q", cfg.LocalDriver))
	}

	// Reward credits
	switch cfg.RewardsDriver {
	case "amqp":
		svc.Crediter = rewards.NewPublisher(cfg.AMQP)
	case "store":
		svc.Crediter = rewards.NewStoreCrediter(svc.Store)
	case "none":
	default:
		return fail(fmt.Errorf("unknown REWARDS %q", cfg.RewardsDriver))
	}
	return svc, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}
