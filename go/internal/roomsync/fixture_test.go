package roomsync

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/identity"
	"github.com/mcdev12/bingolive/go/internal/localstore"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/store"
)

const testRoom = "room-1"

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st    *store.Memory
	feed  *feed.Memory
	repo  *repository.Repository
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	f := feed.NewMemory()
	st.Watch(f.Relay())
	return &fixture{st: st, feed: f, repo: repository.New(st), clock: clockwork.NewFakeClockAt(epoch)}
}

func (fx *fixture) seedRoom(t *testing.T, mutate func(*models.Room)) models.Room {
	t.Helper()
	room := models.Room{
		ID:                  testRoom,
		Code:                "BINGO1",
		HostID:              "host",
		Status:              models.RoomStatusPlaying,
		CurrentRound:        1,
		TotalRounds:         3,
		DrawIntervalSeconds: 5,
		DrawnNumbers:        []int{},
		PrizePool:           1000,
		WinningPatterns:     models.DefaultWinningPatterns(),
	}
	if mutate != nil {
		mutate(&room)
	}
	if err := fx.repo.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func (fx *fixture) join(t *testing.T, id, userID string, status models.ParticipantStatus) {
	t.Helper()
	_, err := fx.repo.Join(context.Background(), models.Participant{
		ID:          id,
		RoomID:      testRoom,
		UserID:      userID,
		DisplayName: userID,
		Status:      status,
		JoinedAt:    epoch,
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func (fx *fixture) setStatus(t *testing.T, id string, status models.ParticipantStatus) {
	t.Helper()
	if err := fx.repo.SetParticipantStatus(context.Background(), id, status); err != nil {
		t.Fatalf("SetParticipantStatus: %v", err)
	}
}

func (fx *fixture) room(t *testing.T) models.Room {
	t.Helper()
	room, err := fx.repo.Room(context.Background(), testRoom)
	if err != nil || room == nil {
		t.Fatalf("Room = %v, %v", room, err)
	}
	return *room
}

type sessionOpts struct {
	local    localstore.Store
	autoDraw bool
}

func (fx *fixture) session(t *testing.T, userID string, opts sessionOpts) *Session {
	t.Helper()
	s, err := NewSession(Config{RoomID: testRoom, DisplayName: userID, AutoDraw: opts.autoDraw}, Deps{
		Store:    fx.st,
		Feed:     fx.feed,
		Identity: identity.Static(userID),
		Local:    opts.local,
		Clock:    fx.clock,
		Rand:     rand.New(rand.NewSource(7)),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() { _ = s.Run(ctx) }()
	settle(t, s)
	return s
}

func settle(t *testing.T, sessions ...*Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Settling one session can queue work on another.
	for i := 0; i < 3; i++ {
		for _, s := range sessions {
			if err := s.Settle(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
				t.Fatalf("Settle: %v", err)
			}
		}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
}

// validGrid puts 15*col+row+1 in every cell, so row 0 is 1 16 31 46 61.
func validGrid() bingo.Grid {
	var g bingo.Grid
	for row := 0; row < bingo.Size; row++ {
		for col := 0; col < bingo.Size; col++ {
			g[row][col] = 15*col + row + 1
		}
	}
	g[2][2] = bingo.Free
	return g
}

func gridStore(t *testing.T, userID string, round int, g bingo.Grid) localstore.Store {
	t.Helper()
	local := localstore.NewMemory()
	if err := local.Save(context.Background(), localstore.GridKey(testRoom, userID, round), g); err != nil {
		t.Fatalf("Save grid: %v", err)
	}
	return local
}

func (fx *fixture) arbiter(t *testing.T, userID string) (*WinClaimArbiter, *RoomMirror) {
	t.Helper()
	mirror := NewRoomMirror(testRoom, fx.repo, nil)
	if err := mirror.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	room, _ := mirror.Room()
	a := NewWinClaimArbiter(testRoom, userID, userID, ArbiterDeps{
		Mirror: mirror,
		Repo:   fx.repo,
		Feed:   fx.feed,
		Ledger: NewClaimLedger(room.CurrentRound),
		Local:  localstore.NewMemory(),
		Clock:  fx.clock,
	})
	return a, mirror
}
