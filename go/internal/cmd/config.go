package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/localstore"
	"github.com/mcdev12/bingolive/go/internal/rewards"
	"github.com/mcdev12/bingolive/go/internal/roomsync"
)

// Config is read from the environment.
type Config struct {
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	Port           string `env:"PORT" envDefault:"8080"`
	StoreDriver    string `env:"STORE_DRIVER" envDefault:"postgres"`
	LocalDriver    string `env:"LOCAL_STORE" envDefault:"redis"`
	RewardsDriver  string `env:"REWARDS" envDefault:"amqp"`
	RoomConfigPath string `env:"ROOM_CONFIG_PATH" envDefault:"room.yaml"`
	Token          string `env:"BINGO_TOKEN"`
	TokenSecret    string `env:"BINGO_TOKEN_SECRET"`

	NATS  feed.NATSConfig
	Redis localstore.RedisConfig
	AMQP  rewards.AMQPConfig
}

func parseEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// RoomFile selects the room and tunes the session.
type RoomFile struct {
	Room struct {
		ID          string `yaml:"id"`
		DisplayName string `yaml:"display_name"`
		AutoDraw    bool   `yaml:"auto_draw"`
	} `yaml:"room"`
	Sync struct {
		PollInterval     time.Duration `yaml:"poll_interval"`
		SelfPollInterval time.Duration `yaml:"self_poll_interval"`
		GuardRetries     int           `yaml:"guard_retries"`
		GuardBackoff     time.Duration `yaml:"guard_backoff"`
		MinDrawGap       time.Duration `yaml:"min_draw_gap"`
		EventBuffer      int           `yaml:"event_buffer"`
	} `yaml:"sync"`
}

func loadRoomFile(path string) (*RoomFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read room config: %w", err)
	}
	var rf RoomFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse room config: %w", err)
	}
	if rf.Room.ID == "" {
		return nil, fmt.Errorf("room config %s: room.id is required", path)
	}
	return &rf, nil
}

// SessionConfig maps the file onto a session config. Zero values keep the
// session defaults.
func (rf *RoomFile) SessionConfig() roomsync.Config {
	return roomsync.Config{
		RoomID:           rf.Room.ID,
		DisplayName:      rf.Room.DisplayName,
		AutoDraw:         rf.Room.AutoDraw,
		PollInterval:     rf.Sync.PollInterval,
		SelfPollInterval: rf.Sync.SelfPollInterval,
		GuardRetries:     rf.Sync.GuardRetries,
		GuardBackoff:     rf.Sync.GuardBackoff,
		MinDrawGap:       rf.Sync.MinDrawGap,
		EventBuffer:      rf.Sync.EventBuffer,
	}
}
