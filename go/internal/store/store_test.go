package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryUpsertGetList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Upsert(ctx, TableParticipants, Record{"id": "p1", "room_id": "r1", "user_id": "u1", "status": "pending"}, []string{"id"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := m.Upsert(ctx, TableParticipants, Record{"id": "p2", "room_id": "r1", "user_id": "u2", "status": "pending"}, []string{"id"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := m.Upsert(ctx, TableParticipants, Record{"id": "p1", "status": "accepted"}, []string{"id"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.String("status") != "accepted" || got.String("user_id") != "u1" {
		t.Fatalf("merged record = %v", got)
	}

	recs, err := m.List(ctx, TableParticipants, Filter{"room_id": "r1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(List) = %d, want 2", len(recs))
	}

	rec, err := m.Get(ctx, TableParticipants, Filter{"user_id": "missing"})
	if err != nil || rec != nil {
		t.Fatalf("Get(missing) = %v, %v, want nil, nil", rec, err)
	}
}

func TestMemoryInsertFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := []string{"room_id", "round_number", "prize_slot"}

	first, inserted, err := m.Insert(ctx, TablePrizeClaims, Record{"id": "c1", "room_id": "r1", "round_number": 1, "prize_slot": "secondary"}, key)
	if err != nil || !inserted {
		t.Fatalf("first Insert = %v, %v", inserted, err)
	}
	second, inserted, err := m.Insert(ctx, TablePrizeClaims, Record{"id": "c2", "room_id": "r1", "round_number": int64(1), "prize_slot": "secondary"}, key)
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if inserted {
		t.Fatalf("second Insert inserted, want existing row")
	}
	if second.String("id") != first.String("id") {
		t.Fatalf("second Insert returned %s, want %s", second.String("id"), first.String("id"))
	}
}

func TestMemoryWatchAndFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var seen []ChangeType
	m.Watch(func(table Table, change ChangeType, before, after Record) {
		seen = append(seen, change)
	})

	_, _ = m.Upsert(ctx, TableRooms, Record{"id": "r1", "status": "waiting"}, []string{"id"})
	_ = m.Update(ctx, TableRooms, Record{"status": "playing"}, Filter{"id": "r1"})
	_ = m.Delete(ctx, TableRooms, Filter{"id": "r1"})

	want := []ChangeType{ChangeInsert, ChangeUpdate, ChangeDelete}
	if len(seen) != len(want) {
		t.Fatalf("changes = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("changes = %v, want %v", seen, want)
		}
	}

	boom := errors.New("boom")
	m.FailWith(boom)
	if _, err := m.Get(ctx, TableRooms, Filter{"id": "r1"}); !errors.Is(err, boom) {
		t.Fatalf("Get err = %v, want boom", err)
	}
	if _, err := m.Get(ctx, "nope", nil); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("Get unknown table err = %v", err)
	}
}

func TestRecordAccessors(t *testing.T) {
	var decoded Record
	if err := json.Unmarshal([]byte(`{"drawn_numbers":[5,12,47],"current_round":2,"last_draw_timestamp":"2026-01-02T03:04:05Z","winning_patterns":{"corners":true}}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tests := []struct {
		name string
		rec  Record
		want []int
	}{
		{"json array", decoded, []int{5, 12, 47}},
		{"go slice", Record{"drawn_numbers": []int{1, 2}}, []int{1, 2}},
		{"array literal", Record{"drawn_numbers": "{3,4}"}, []int{3, 4}},
		{"null", Record{"drawn_numbers": nil}, []int{}},
		{"not an array", Record{"drawn_numbers": 17}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rec.Ints("drawn_numbers")
			if len(got) != len(tt.want) {
				t.Fatalf("Ints = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Ints = %v, want %v", got, tt.want)
				}
			}
		})
	}

	round, err := decoded.Int("current_round")
	if err != nil || round != 2 {
		t.Fatalf("Int = %d, %v, want 2", round, err)
	}
	ts, err := decoded.Time("last_draw_timestamp")
	if err != nil || ts == nil || !ts.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("Time = %v, %v", ts, err)
	}
	var patterns struct {
		Corners bool `json:"corners"`
	}
	if err := decoded.JSON("winning_patterns", &patterns); err != nil || !patterns.Corners {
		t.Fatalf("JSON = %+v, %v", patterns, err)
	}
}

func TestMemoryIncrement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := Record{"user_id": "u1"}

	tests := []struct {
		by   int64
		want int64
	}{
		{35, 35},
		{10, 45},
		{-5, 40},
	}
	for _, tt := range tests {
		rec, err := m.Increment(ctx, TableProfiles, key, "score", tt.by)
		if err != nil {
			t.Fatalf("Increment(%d): %v", tt.by, err)
		}
		if got, _ := rec.Int64("score"); got != tt.want {
			t.Fatalf("score = %d, want %d", got, tt.want)
		}
	}
	if rows, _ := m.List(ctx, TableProfiles, Filter{"user_id": "u1"}); len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if _, err := m.Increment(ctx, TableProfiles, Record{}, "score", 1); !errors.Is(err, ErrEmptyFilter) {
		t.Fatalf("empty key err = %v, want ErrEmptyFilter", err)
	}
}
