package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRoomFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "room.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadRoomFile(t *testing.T) {
	path := writeRoomFile(t, `
room:
  id: room-42
  display_name: Ana
  auto_draw: true
sync:
  poll_interval: 5s
  guard_retries: 4
  min_draw_gap: 2s
`)
	rf, err := loadRoomFile(path)
	if err != nil {
		t.Fatalf("loadRoomFile: %v", err)
	}
	cfg := rf.SessionConfig()
	if cfg.RoomID != "room-42" || cfg.DisplayName != "Ana" || !cfg.AutoDraw {
		t.Fatalf("room = %+v", cfg)
	}
	if cfg.PollInterval != 5*time.Second || cfg.GuardRetries != 4 || cfg.MinDrawGap != 2*time.Second {
		t.Fatalf("sync = %+v", cfg)
	}
	if cfg.GuardBackoff != 0 {
		t.Fatalf("unset backoff = %v, want 0 for the session default", cfg.GuardBackoff)
	}
}

func TestLoadRoomFileRequiresRoom(t *testing.T) {
	path := writeRoomFile(t, "sync:\n  poll_interval: 1s\n")
	if _, err := loadRoomFile(path); err == nil {
		t.Fatalf("expected an error without room.id")
	}
}

func TestParseEnvDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := parseEnv()
	if err != nil {
		t.Fatalf("parseEnv: %v", err)
	}
	if cfg.StoreDriver != "memory" || cfg.Port != "8080" || cfg.NATS.SubjectPrefix != "bingo" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
