// Command relay publishes room changes from the Postgres outbox to NATS and
// applies queued reward credits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bingolive/go/internal/dbconfig"
	"github.com/mcdev12/bingolive/go/internal/relay"
	"github.com/mcdev12/bingolive/go/internal/rewards"
	"github.com/mcdev12/bingolive/go/internal/store"
)

type Config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HealthPort      string        `env:"RELAY_HEALTH_PORT" envDefault:"8082"`
	HealthThreshold time.Duration `env:"RELAY_HEALTH_THRESHOLD" envDefault:"2m"`
	ConsumeRewards  bool          `env:"RELAY_CONSUME_REWARDS" envDefault:"true"`

	Relay     relay.Config
	JetStream relay.JetStreamConfig
	AMQP      rewards.AMQPConfig
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	dbCfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database configuration")
	}
	db, err := dbconfig.Open(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := relay.NewJetStreamPublisher(ctx, cfg.JetStream)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	outbox := relay.NewPostgresOutbox(db)
	r := relay.NewRelay(outbox, publisher, nil, cfg.Relay)
	listener, err := relay.NewListener(dbCfg.DSN(), r, cfg.Relay)
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox listener")
	}

	health := relay.NewHealthChecker(r, outbox, db, publisher.Connected, listener.Running, cfg.HealthThreshold)
	mux := http.NewServeMux()
	mux.Handle("GET /health", health)
	server := &http.Server{Addr: fmt.Sprintf(":%s", cfg.HealthPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		log.Info().Msg("starting outbox listener")
		errCh <- listener.Start(ctx)
	}()
	if cfg.ConsumeRewards {
		consumer := rewards.NewConsumer(cfg.AMQP, rewards.NewStoreCrediter(store.NewPostgres(db)))
		go func() {
			log.Info().Str("queue", cfg.AMQP.Queue).Msg("starting reward consumer")
			errCh <- consumer.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("relay component exited unexpectedly")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}
	log.Info().Msg("graceful shutdown complete")
}
