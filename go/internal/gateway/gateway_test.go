package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/identity"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/roomsync"
	"github.com/mcdev12/bingolive/go/internal/store"
)

const testRoom = "room-gw"

func startService(t *testing.T) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMemory()
	f := feed.NewMemory()
	st.Watch(f.Relay())
	repo := repository.New(st)
	err := repo.CreateRoom(ctx, models.Room{
		ID:                  testRoom,
		Code:                "GATE01",
		HostID:              "host",
		Status:              models.RoomStatusPlaying,
		CurrentRound:        1,
		TotalRounds:         2,
		DrawIntervalSeconds: 5,
		DrawnNumbers:        []int{},
		PrizePool:           500,
		WinningPatterns:     models.DefaultWinningPatterns(),
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	sess, err := roomsync.NewSession(roomsync.Config{RoomID: testRoom, DisplayName: "host"}, roomsync.Deps{
		Store:    st,
		Feed:     f,
		Identity: identity.Static("host"),
		Clock:    clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		Rand:     rand.New(rand.NewSource(3)),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() { _ = sess.Run(ctx) }()

	svc := NewService(DefaultConnectionConfig())
	go svc.Start(ctx)
	svc.Attach(sess)
	t.Cleanup(func() {
		sess.Close()
		cancel()
	})
	return svc
}

func dial(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room?room_id=" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

// roundTrip sends cmd and skips view events until its result arrives.
func roundTrip(t *testing.T, conn *websocket.Conn, cmd Command) CommandResult {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	for i := 0; i < 50; i++ {
		frame := readFrame(t, conn)
		if string(frame["type"]) != `"result"` {
			continue
		}
		raw, _ := json.Marshal(frame)
		var res CommandResult
		if err := json.Unmarshal(raw, &res); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if res.ID == cmd.ID {
			return res
		}
	}
	t.Fatalf("no result for command %s", cmd.ID)
	return CommandResult{}
}

func TestWebSocketSnapshotThenCommands(t *testing.T) {
	svc := startService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	conn := dial(t, srv, testRoom)

	first := readFrame(t, conn)
	if got := string(first["type"]); got != `"snapshot"` {
		t.Fatalf("first frame type = %s, want snapshot", got)
	}
	var view roomsync.View
	if err := json.Unmarshal(first["view"], &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if !view.IsHost || view.Room.ID != testRoom {
		t.Fatalf("view = host:%v room:%s", view.IsHost, view.Room.ID)
	}

	res := roundTrip(t, conn, Command{ID: "c1", Type: CommandDraw})
	if !res.OK {
		t.Fatalf("draw failed: %s %s", res.Code, res.Error)
	}

	tests := []struct {
		cmd  Command
		code string
	}{
		{Command{ID: "c2", Type: CommandDraw}, "DRAW_TOO_SOON"},
		{Command{ID: "c3", Type: "shuffle"}, "BAD_REQUEST"},
		{Command{ID: "c4", Type: CommandApprove, ParticipantID: "nobody"}, "UNKNOWN_PARTICIPANT"},
	}
	for _, tt := range tests {
		res := roundTrip(t, conn, tt.cmd)
		if res.OK || res.Code != tt.code {
			t.Fatalf("%s: ok=%v code=%s, want %s", tt.cmd.Type, res.OK, res.Code, tt.code)
		}
	}
}

func TestWebSocketUnknownRoom(t *testing.T) {
	svc := startService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room?room_id=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("Dial succeeded for an unknown room")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v, want 404", resp)
	}
}

func TestRoomStateEndpoint(t *testing.T) {
	svc := startService(t)
	h := svc.Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/api/rooms/" + testRoom + "/state", http.StatusOK},
		{"/api/rooms/missing/state", http.StatusNotFound},
		{"/health", http.StatusOK},
		{"/ws/stats", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Fatalf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/"+testRoom+"/state", nil))
	var resp RoomStateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RoomID != testRoom || resp.UserID != "host" || resp.View.Room.PrizePool != 500 {
		t.Fatalf("state = %+v", resp)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&roomsync.ClaimRejected{Reason: roomsync.ReasonSecondaryAwarded}, "SECONDARY_AWARDED"},
		{&roomsync.CapacityExceeded{Limit: 2, Accepted: 2}, "CAPACITY_EXCEEDED"},
		{fmt.Errorf("draw: %w", roomsync.ErrDrawTooSoon), "DRAW_TOO_SOON"},
		{&roomsync.SyncError{Op: "load room", Err: errors.New("down")}, "SYNC_ERROR"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Fatalf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
