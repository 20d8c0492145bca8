package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/store"
)

func TestRoomFromRecordNormalizes(t *testing.T) {
	room, err := RoomFromRecord(store.Record{
		"id":            "r1",
		"drawn_numbers": "garbage",
		"prize_pool":    nil,
		"status":        nil,
	})
	if err != nil {
		t.Fatalf("RoomFromRecord: %v", err)
	}
	if room.DrawnNumbers == nil || len(room.DrawnNumbers) != 0 {
		t.Fatalf("DrawnNumbers = %v, want empty", room.DrawnNumbers)
	}
	if room.PrizePool != 0 || room.Status != models.RoomStatusWaiting {
		t.Fatalf("defaults = %d, %s", room.PrizePool, room.Status)
	}
	if !room.WinningPatterns.FullCard {
		t.Fatalf("missing winning_patterns should enable every pattern")
	}

	if _, err := RoomFromRecord(store.Record{"code": "ABC"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestRoomFromRecordDropsInvalidDraws(t *testing.T) {
	drawn := make([]int, 0, 80)
	for n := 1; n <= 75; n++ {
		drawn = append(drawn, n)
	}
	drawn = append(drawn, 99, 0, 12)

	room, err := RoomFromRecord(store.Record{"id": "r1", "drawn_numbers": drawn})
	if err != nil {
		t.Fatalf("RoomFromRecord: %v", err)
	}
	if got := len(room.DrawnNumbers); got != 75 {
		t.Fatalf("len(DrawnNumbers) = %d, want 75", got)
	}

	patch, err := PatchFromRecord(store.Record{"drawn_numbers": []int{3, 3, 80}})
	if err != nil {
		t.Fatalf("PatchFromRecord: %v", err)
	}
	if patch.DrawnNumbers == nil || len(*patch.DrawnNumbers) != 1 || (*patch.DrawnNumbers)[0] != 3 {
		t.Fatalf("patch drawn = %v, want [3]", patch.DrawnNumbers)
	}
}

func TestPatchPreservesAbsentFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	room := models.Room{ID: "r1", Status: models.RoomStatusPlaying, CurrentRound: 2, PrizePool: 500, DrawnNumbers: []int{1}}

	patch, err := PatchFromRecord(store.Record{"drawn_numbers": []int{1, 9}, "last_draw_timestamp": ts})
	if err != nil {
		t.Fatalf("PatchFromRecord: %v", err)
	}
	patch.Apply(&room)

	if len(room.DrawnNumbers) != 2 || room.LastDrawTimestamp == nil || !room.LastDrawTimestamp.Equal(ts) {
		t.Fatalf("patched room = %+v", room)
	}
	if room.CurrentRound != 2 || room.PrizePool != 500 || room.Status != models.RoomStatusPlaying {
		t.Fatalf("absent fields changed: %+v", room)
	}
}

func TestClaimPrizeSlot(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())

	first := models.PrizeClaim{ID: "c1", RoomID: "r1", WinnerID: "u1", Pattern: models.PatternFiveInRow, Round: 1}
	second := models.PrizeClaim{ID: "c2", RoomID: "r1", WinnerID: "u2", Pattern: models.PatternCorners, Round: 1}
	full := models.PrizeClaim{ID: "c3", RoomID: "r1", WinnerID: "u2", Pattern: models.PatternFullCard, Round: 1}

	if _, won, err := repo.ClaimPrize(ctx, first); err != nil || !won {
		t.Fatalf("first claim = %v, %v", won, err)
	}
	holder, won, err := repo.ClaimPrize(ctx, second)
	if err != nil || won {
		t.Fatalf("second claim = %v, %v, want lost", won, err)
	}
	if holder.ID != "c1" {
		t.Fatalf("holder = %s, want c1", holder.ID)
	}
	if _, won, err := repo.ClaimPrize(ctx, full); err != nil || !won {
		t.Fatalf("full card claim = %v, %v, want won", won, err)
	}
	if _, won, _ := repo.ClaimPrize(ctx, first); !won {
		t.Fatalf("re-recording the holder should report won")
	}

	claims, err := repo.RoundClaims(ctx, "r1", 1)
	if err != nil || len(claims) != 2 {
		t.Fatalf("RoundClaims = %v, %v, want 2", claims, err)
	}
}

func TestIncrementRejections(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())
	for want := 1; want <= 3; want++ {
		got, err := repo.IncrementRejections(ctx, "r1", "u1")
		if err != nil || got != want {
			t.Fatalf("IncrementRejections = %d, %v, want %d", got, err, want)
		}
	}
	ban, err := repo.Ban(ctx, "r1", "u1")
	if err != nil || ban == nil || ban.RejectionCount != 3 {
		t.Fatalf("Ban = %+v, %v", ban, err)
	}
}

func TestIncrementRejectionsConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementRejections(ctx, "r1", "u1"); err != nil {
				t.Errorf("IncrementRejections: %v", err)
			}
		}()
	}
	wg.Wait()

	ban, err := repo.Ban(ctx, "r1", "u1")
	if err != nil || ban == nil {
		t.Fatalf("Ban = %+v, %v", ban, err)
	}
	if ban.RejectionCount != n {
		t.Fatalf("RejectionCount = %d, want %d", ban.RejectionCount, n)
	}
}
