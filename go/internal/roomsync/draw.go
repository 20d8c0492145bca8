package roomsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/rs/zerolog/log"
)

const DefaultMinDrawGap = 1500 * time.Millisecond

// RoundPayload is the body of resume and pause broadcasts.
type RoundPayload struct {
	Round int       `json:"round"`
	At    time.Time `json:"at"`
}

// DrawEngine performs host-side draws and round control. Only one draw is
// ever in flight, and consecutive draws are at least minGap apart.
type DrawEngine struct {
	roomID string
	userID string
	mirror *RoomMirror
	repo   *repository.Repository
	feed   feed.Feed
	clock  clockwork.Clock
	rng    bingo.Rand
	minGap time.Duration
	post   func(Message) bool

	inFlight atomic.Bool

	mu       sync.Mutex
	lastDraw time.Time
	cadence  *ticker
}

func NewDrawEngine(roomID, userID string, mirror *RoomMirror, repo *repository.Repository, f feed.Feed,
	clock clockwork.Clock, rng bingo.Rand, minGap time.Duration, post func(Message) bool) *DrawEngine {
	if minGap <= 0 {
		minGap = DefaultMinDrawGap
	}
	return &DrawEngine{
		roomID: roomID,
		userID: userID,
		mirror: mirror,
		repo:   repo,
		feed:   f,
		clock:  clock,
		rng:    rng,
		minGap: minGap,
		post:   post,
	}
}

func (d *DrawEngine) hostRoom() (models.Room, error) {
	room, ok := d.mirror.Room()
	if !ok {
		return room, &SyncError{Op: "read room", Err: ErrRoomNotLoaded}
	}
	if room.HostID != d.userID {
		return room, ErrNotHost
	}
	return room, nil
}

// Draw picks the next number, writes the history and timestamp in one
// update and applies the result locally.
func (d *DrawEngine) Draw(ctx context.Context) (int, error) {
	room, err := d.hostRoom()
	if err != nil {
		return 0, err
	}
	if room.Status != models.RoomStatusPlaying {
		return 0, ErrNotPlaying
	}
	if d.mirror.Paused() {
		return 0, ErrPaused
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		return 0, ErrDrawInFlight
	}
	defer d.inFlight.Store(false)

	now := d.clock.Now()
	d.mu.Lock()
	last := d.lastDraw
	d.mu.Unlock()
	if room.LastDrawTimestamp != nil && room.LastDrawTimestamp.After(last) {
		last = *room.LastDrawTimestamp
	}
	if !last.IsZero() && now.Sub(last) < d.minGap {
		return 0, ErrDrawTooSoon
	}

	n, ok := bingo.Next(d.rng, room.DrawnNumbers)
	if !ok {
		return 0, ErrPoolExhausted
	}
	drawn := append(append([]int{}, room.DrawnNumbers...), n)
	if err := d.repo.RecordDraw(ctx, d.roomID, drawn, now); err != nil {
		return 0, &SyncError{Op: "draw", Err: err}
	}

	d.mu.Lock()
	d.lastDraw = now
	d.mu.Unlock()

	ts := &now
	d.mirror.ApplyPatch(repository.RoomPatch{DrawnNumbers: &drawn, LastDrawTimestamp: &ts})

	log.Debug().Str("room_id", d.roomID).Int("number", n).Int("drawn", len(drawn)).Msg("number drawn")
	return n, nil
}

// Skippable reports whether a draw error just means "not now".
func Skippable(err error) bool {
	return errors.Is(err, ErrDrawTooSoon) || errors.Is(err, ErrDrawInFlight) ||
		errors.Is(err, ErrPaused) || errors.Is(err, ErrNotPlaying) || errors.Is(err, ErrPoolExhausted)
}

// Countdown is the time left before the next scheduled draw.
func Countdown(room models.Room, now time.Time) time.Duration {
	interval := time.Duration(room.DrawIntervalSeconds) * time.Second
	if room.LastDrawTimestamp == nil {
		return interval
	}
	left := interval - now.Sub(*room.LastDrawTimestamp)
	if left < 0 {
		return 0
	}
	return left
}

// StartGame moves a waiting room to playing at round one.
func (d *DrawEngine) StartGame(ctx context.Context) error {
	room, err := d.hostRoom()
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusWaiting || !room.Status.CanTransition(models.RoomStatusPlaying) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, room.Status, models.RoomStatusPlaying)
	}
	round := room.CurrentRound
	if round < 1 {
		round = 1
	}
	if err := d.repo.StartRoom(ctx, d.roomID, round); err != nil {
		return &SyncError{Op: "start game", Err: err}
	}
	status := models.RoomStatusPlaying
	d.mirror.ApplyPatch(repository.RoomPatch{Status: &status, CurrentRound: &round})
	d.mirror.SetPaused(false)
	d.mirror.SetRoundEnded(false)
	return nil
}

// AdvanceRound clears the draw history and starts the next round paused.
func (d *DrawEngine) AdvanceRound(ctx context.Context) (int, error) {
	room, err := d.hostRoom()
	if err != nil {
		return 0, err
	}
	if room.Status != models.RoomStatusPlaying {
		return 0, ErrNotPlaying
	}
	next := room.CurrentRound + 1
	if room.TotalRounds > 0 && next > room.TotalRounds {
		return 0, ErrNoMoreRounds
	}
	if err := d.repo.AdvanceRound(ctx, d.roomID, next); err != nil {
		return 0, &SyncError{Op: "advance round", Err: err}
	}

	d.mu.Lock()
	d.lastDraw = time.Time{}
	d.mu.Unlock()

	drawn := []int{}
	var noTimestamp *time.Time
	d.mirror.ApplyPatch(repository.RoomPatch{DrawnNumbers: &drawn, CurrentRound: &next, LastDrawTimestamp: &noTimestamp})
	d.mirror.SetPaused(true)
	d.mirror.SetRoundEnded(false)

	log.Info().Str("room_id", d.roomID).Int("round", next).Msg("round advanced")
	return next, nil
}

// Resume lifts the pause and tells every client.
func (d *DrawEngine) Resume(ctx context.Context) error {
	room, err := d.hostRoom()
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusPlaying {
		return ErrNotPlaying
	}
	if d.mirror.RoundEnded() {
		return ErrRoundEnded
	}
	d.mirror.SetPaused(false)
	payload := RoundPayload{Round: room.CurrentRound, At: d.clock.Now()}
	if err := d.feed.Publish(ctx, feed.RoomTopic(d.roomID), feed.EventResume, payload); err != nil {
		return &SubscriptionError{Topic: feed.RoomTopic(d.roomID), Err: err}
	}
	return nil
}

// Pause stops draws and tells every client.
func (d *DrawEngine) Pause(ctx context.Context) error {
	room, err := d.hostRoom()
	if err != nil {
		return err
	}
	d.mirror.SetPaused(true)
	payload := RoundPayload{Round: room.CurrentRound, At: d.clock.Now()}
	if err := d.feed.Publish(ctx, feed.RoomTopic(d.roomID), feed.EventPause, payload); err != nil {
		return &SubscriptionError{Topic: feed.RoomTopic(d.roomID), Err: err}
	}
	return nil
}

// FinishRoom ends the game for everyone.
func (d *DrawEngine) FinishRoom(ctx context.Context) error {
	room, err := d.hostRoom()
	if err != nil {
		return err
	}
	if !room.Status.CanTransition(models.RoomStatusFinished) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, room.Status, models.RoomStatusFinished)
	}
	if err := d.repo.FinishRoom(ctx, d.roomID); err != nil {
		return &SyncError{Op: "finish room", Err: err}
	}
	status := models.RoomStatusFinished
	d.mirror.ApplyPatch(repository.RoomPatch{Status: &status})
	return nil
}

// StartCadence posts a draw tick every interval. Calling it again while
// running is a no-op.
func (d *DrawEngine) StartCadence(interval time.Duration) bool {
	d.mu.Lock()
	if d.cadence == nil || d.cadence.interval != interval {
		if d.cadence != nil {
			d.cadence.Stop()
		}
		d.cadence = newTicker(d.clock, interval, d.post, msgCadenceTick{})
	}
	c := d.cadence
	d.mu.Unlock()
	return c.Start()
}

func (d *DrawEngine) StopCadence() {
	d.mu.Lock()
	c := d.cadence
	d.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (d *DrawEngine) CadenceRunning() bool {
	d.mu.Lock()
	c := d.cadence
	d.mu.Unlock()
	return c != nil && c.Running()
}
