// Command bingolive runs one room session for the signed-in user and serves
// its view over a websocket gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bingolive/go/internal/gateway"
	"github.com/mcdev12/bingolive/go/internal/roomsync"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := parseEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	roomFile, err := loadRoomFile(cfg.RoomConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load room config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	session, err := roomsync.NewSession(roomFile.SessionConfig(), roomsync.Deps{
		Store:    services.Store,
		Feed:     services.Feed,
		Identity: services.Identity,
		Local:    services.Local,
		Crediter: services.Crediter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create room session")
	}
	if err := session.Start(ctx); err != nil {
		log.Fatal().Err(err).Str("room_id", roomFile.Room.ID).Msg("failed to start room session")
	}
	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("room session stopped")
		}
	}()

	gw := gateway.NewService(gateway.DefaultConnectionConfig())
	go gw.Start(ctx)
	gw.Attach(session)

	server := setupServer(gw, cfg.Port)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("room_id", session.RoomID()).
			Str("user_id", session.UserID()).
			Bool("host", session.IsHost()).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case <-session.Done():
		if exit := session.Exit(); exit != nil {
			log.Info().Str("reason", string(exit.Reason)).Msg("left the room")
		}
	}

	session.Close()
	gw.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
