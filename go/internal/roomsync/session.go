// Package roomsync keeps a client's view of one bingo room consistent with
// the shared store. Each joined room gets a Session; every feed callback,
// timer and user action is turned into a message and processed in order
// on the session's loop.
package roomsync

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/identity"
	"github.com/mcdev12/bingolive/go/internal/localstore"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/rewards"
	"github.com/mcdev12/bingolive/go/internal/store"
	"github.com/rs/zerolog/log"
)

const defaultEventBuffer = 64

type Config struct {
	RoomID           string
	DisplayName      string
	PollInterval     time.Duration
	SelfPollInterval time.Duration
	GuardRetries     int
	GuardBackoff     time.Duration
	MinDrawGap       time.Duration
	EventBuffer      int
	// AutoDraw makes a host session draw on the room's interval.
	AutoDraw bool
}

type Deps struct {
	Store    store.Store
	Feed     feed.Feed
	Identity identity.Provider
	Local    localstore.Store
	Crediter rewards.Crediter
	Clock    clockwork.Clock
	Rand     bingo.Rand
}

// Session is the per-room synchronization context.
type Session struct {
	cfg    Config
	userID string
	clock  clockwork.Clock
	repo   *repository.Repository
	bus    *Bus

	mirror    *RoomMirror
	feed      *ChangeFeedClient
	polling   *PollingFallback
	draws     *DrawEngine
	ledger    *ClaimLedger
	arbiter   *WinClaimArbiter
	guard     *AccessGuard
	selfWatch *SelfWatch
	admission *Admission
	grids     *GridKeeper

	// Loop state.
	isHost       bool
	lastRound    int
	feedLost     bool
	resumedRound int

	mu       sync.Mutex
	closed   bool
	exit     *Redirect
	events   chan ViewEvent
	done     chan struct{}
	stopOnce sync.Once
}

// NewSession wires the components for one room. The current user must be
// known.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Identity == nil {
		return nil, ErrNoIdentity
	}
	userID, ok := deps.Identity.CurrentUserID()
	if !ok || userID == "" {
		return nil, ErrNoIdentity
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	if deps.Local == nil {
		deps.Local = localstore.NewMemory()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	s := &Session{
		cfg:    cfg,
		userID: userID,
		clock:  deps.Clock,
		repo:   repository.New(deps.Store),
		bus:    NewBus(),
		events: make(chan ViewEvent, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	post := s.bus.Post

	s.mirror = NewRoomMirror(cfg.RoomID, s.repo, func(c MirrorChange) {
		post(msgMirrorUpdated{change: c})
	})
	s.feed = NewChangeFeedClient(deps.Feed, cfg.RoomID, s.mirror, post)
	s.polling = NewPollingFallback(deps.Clock, cfg.PollInterval, s.mirror, post)
	s.draws = NewDrawEngine(cfg.RoomID, userID, s.mirror, s.repo, deps.Feed, deps.Clock, deps.Rand, cfg.MinDrawGap, post)
	s.ledger = NewClaimLedger(0)
	s.arbiter = NewWinClaimArbiter(cfg.RoomID, userID, cfg.DisplayName, ArbiterDeps{
		Mirror:   s.mirror,
		Repo:     s.repo,
		Feed:     deps.Feed,
		Ledger:   s.ledger,
		Local:    deps.Local,
		Crediter: deps.Crediter,
		Clock:    deps.Clock,
		OnOutcome: func(c models.PrizeClaim) {
			post(msgOutcome{claim: c})
		},
	})
	s.guard = NewAccessGuard(cfg.RoomID, userID, s.mirror, s.repo, deps.Clock, cfg.GuardRetries, cfg.GuardBackoff, post)
	s.selfWatch = NewSelfWatch(cfg.RoomID, userID, deps.Feed, s.repo, deps.Clock, cfg.SelfPollInterval, post)
	s.admission = NewAdmission(cfg.RoomID, userID, s.mirror, s.repo)
	s.grids = NewGridKeeper(deps.Local, deps.Rand, cfg.RoomID, userID)
	return s, nil
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) RoomID() string { return s.cfg.RoomID }

// IsHost is only meaningful after Start.
func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHost
}

// Events streams view updates. The channel is closed when the session ends.
func (s *Session) Events() <-chan ViewEvent { return s.events }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Exit returns the redirect that ended the session, if any.
func (s *Session) Exit() *Redirect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Start loads the room and opens the subscriptions. It must be called
// before Run.
func (s *Session) Start(ctx context.Context) error {
	if err := s.mirror.Load(ctx); err != nil {
		return err
	}
	room, _ := s.mirror.Room()

	s.mu.Lock()
	s.isHost = room.HostID == s.userID
	s.mu.Unlock()
	s.lastRound = room.CurrentRound

	log.Info().
		Str("room_id", room.ID).
		Str("user_id", s.userID).
		Bool("host", s.isHost).
		Str("status", string(room.Status)).
		Int("round", room.CurrentRound).
		Msg("joining room")

	s.arbiter.Restore(ctx, room.CurrentRound)
	if err := s.arbiter.Seed(ctx, room.CurrentRound); err != nil {
		log.Warn().Err(err).Str("room_id", room.ID).Msg("failed to load round claims")
	}

	_ = s.subscribe(ctx)
	if !s.isHost {
		if err := s.selfWatch.Start(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", room.ID).Msg("self watch subscription failed, relying on lookups")
		}
	}
	s.syncCadence(room)
	s.emitSnapshot()
	return nil
}

func (s *Session) subscribe(ctx context.Context) error {
	if err := s.feed.Subscribe(ctx); err != nil {
		log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("change feed subscription failed")
		s.feed.MarkError()
		s.onFeedState(ctx, FeedError)
		return err
	}
	if s.feed.State() == FeedSubscribing {
		s.onFeedState(ctx, FeedSubscribing)
	}
	return nil
}

// Run processes messages until the session ends or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.stop(nil)
	for {
		m, err := s.bus.Next(ctx)
		if err != nil {
			if errors.Is(err, errBusClosed) {
				return nil
			}
			return err
		}
		s.handle(ctx, m)
		if s.isClosed() {
			return nil
		}
	}
}

func (s *Session) handle(ctx context.Context, m Message) {
	switch m := m.(type) {
	case msgRowEvent:
		if err := s.feed.HandleRow(ctx, m.gen, m.ev); err != nil {
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("failed to apply row event")
		}
	case msgBroadcast:
		if s.feed.Current(m.gen) {
			s.handleBroadcast(ctx, m.b)
		}
	case msgFeedStatus:
		if state, changed := s.feed.HandleStatus(m.gen, m.status, m.err); changed {
			s.onFeedState(ctx, state)
		}
	case msgPollTick:
		if s.feed.State() != FeedSubscribed {
			if err := s.polling.Poll(ctx); err != nil {
				log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("poll failed")
				s.emitSnapshot()
			}
		}
	case msgMirrorUpdated:
		s.onMirrorUpdated(ctx, m.change)
	case msgRefreshParticipants:
		if err := s.mirror.RefreshParticipants(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("participant refresh failed")
		}
	case msgGuardRetry:
		s.runGuard(ctx, true)
	case msgSelfRow:
		if r := s.selfWatch.HandleRow(m.ev); r != nil {
			s.redirect(*r)
		}
	case msgSelfPoll:
		if r := s.selfWatch.Poll(ctx); r != nil {
			s.redirect(*r)
		}
	case msgCadenceTick:
		if _, err := s.draws.Draw(ctx); err != nil && !Skippable(err) {
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("scheduled draw failed")
		}
	case msgOutcome:
		claim := m.claim
		s.emit(ViewEvent{Type: ViewOutcome, Outcome: &claim})
	case msgAction:
		m.reply <- m.fn(ctx)
	}
}

func (s *Session) handleBroadcast(ctx context.Context, b feed.Broadcast) {
	switch b.Event {
	case feed.EventWinner:
		if _, err := s.arbiter.HandleWinner(ctx, b.Payload); err != nil {
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("bad winner broadcast")
		}
	case feed.EventResume:
		var p RoundPayload
		if err := decodePayload(b.Payload, &p); err != nil {
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("bad resume broadcast")
			return
		}
		room, _ := s.mirror.Room()
		if p.Round > room.CurrentRound {
			s.resumedRound = p.Round
			return
		}
		if p.Round == room.CurrentRound {
			s.mirror.SetPaused(false)
		}
	case feed.EventPause:
		s.mirror.SetPaused(true)
	}
}

func (s *Session) onFeedState(ctx context.Context, state FeedState) {
	switch state {
	case FeedSubscribing:
		if s.polling.Start() {
			log.Debug().Str("room_id", s.cfg.RoomID).Msg("polling until the change feed confirms")
		}
	case FeedSubscribed:
		s.polling.Stop()
		if s.feedLost {
			s.feedLost = false
			log.Info().Str("room_id", s.cfg.RoomID).Msg("change feed recovered, polling stopped")
			// Events may have been missed while the feed was down.
			if err := s.mirror.Load(ctx); err != nil {
				log.Warn().Err(err).Str("room_id", s.cfg.RoomID).Msg("reload after recovery failed")
			}
		}
	case FeedError:
		s.feedLost = true
		if s.polling.Start() {
			log.Info().Str("room_id", s.cfg.RoomID).Msg("change feed down, polling started")
		}
	}
	s.runGuard(ctx, false)
	s.emit(ViewEvent{Type: ViewFeedState, FeedState: state})
}

func (s *Session) onMirrorUpdated(ctx context.Context, change MirrorChange) {
	room, ok := s.mirror.Room()
	if !ok {
		return
	}
	if room.Status == models.RoomStatusFinished {
		s.redirect(Redirect{Reason: RedirectRoomFinished})
		return
	}
	if change.Room && room.CurrentRound > s.lastRound {
		s.onRoundChanged(ctx, room.CurrentRound)
	}
	if change.Room {
		s.syncCadence(room)
	}
	if change.Participants {
		if _, ok := s.mirror.ParticipantByUser(s.userID); ok && !s.isHost {
			s.selfWatch.MarkSeen()
		}
		s.runGuard(ctx, false)
	}
	s.emitSnapshot()
}

// onRoundChanged drops the previous round's ledger. Every round after the
// first starts paused unless its resume already arrived.
func (s *Session) onRoundChanged(ctx context.Context, round int) {
	prev := s.lastRound
	s.lastRound = round
	if s.ledger.Round() < round {
		s.arbiter.ResetRound(ctx, round)
	}
	s.mirror.SetRoundEnded(false)
	if prev > 0 {
		s.mirror.SetPaused(s.resumedRound != round)
	}
	log.Info().Str("room_id", s.cfg.RoomID).Int("round", round).Msg("round changed")
}

func (s *Session) syncCadence(room models.Room) {
	if !s.isHost || !s.cfg.AutoDraw {
		return
	}
	if room.Status == models.RoomStatusPlaying && room.DrawIntervalSeconds > 0 {
		s.draws.StartCadence(time.Duration(room.DrawIntervalSeconds) * time.Second)
		return
	}
	s.draws.StopCadence()
}

func (s *Session) runGuard(ctx context.Context, fromRetry bool) {
	if s.isHost {
		return
	}
	if r := s.guard.Check(ctx, s.feed.State(), fromRetry); r != nil {
		s.redirect(*r)
	}
}

func (s *Session) redirect(r Redirect) {
	log.Info().Str("room_id", s.cfg.RoomID).Str("user_id", s.userID).Str("reason", string(r.Reason)).Msg("leaving room")
	s.emit(ViewEvent{Type: ViewRedirect, Redirect: &r})
	s.stop(&r)
}

// Close ends the session and releases its subscriptions and timers. It is
// safe to call more than once.
func (s *Session) Close() {
	s.stop(nil)
}

func (s *Session) stop(r *Redirect) {
	s.stopOnce.Do(func() {
		s.feed.Unsubscribe()
		s.selfWatch.Stop()
		s.polling.Stop()
		s.guard.Stop()
		s.draws.StopCadence()
		s.bus.Close()

		s.mu.Lock()
		s.closed = true
		s.exit = r
		close(s.events)
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) emit(ev ViewEvent) {
	ev.RoomID = s.cfg.RoomID
	ev.At = s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("room_id", s.cfg.RoomID).Str("type", string(ev.Type)).Msg("view event buffer full, dropping")
	}
}

func (s *Session) emitSnapshot() {
	v := s.Snapshot()
	s.emit(ViewEvent{Type: ViewSnapshot, View: &v})
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	if !s.bus.Post(msgAction{fn: fn, reply: reply}) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errPending = errors.New("messages pending")

// Settle waits until the loop has drained every queued message.
func (s *Session) Settle(ctx context.Context) error {
	for {
		err := s.do(ctx, func(context.Context) error {
			if s.bus.Len() > 0 {
				return errPending
			}
			return nil
		})
		if !errors.Is(err, errPending) {
			return err
		}
	}
}

func (s *Session) Draw(ctx context.Context) (int, error) {
	var n int
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.draws.Draw(ctx)
		return err
	})
	return n, err
}

func (s *Session) StartGame(ctx context.Context) error {
	return s.do(ctx, s.draws.StartGame)
}

func (s *Session) AdvanceRound(ctx context.Context) (int, error) {
	var round int
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		round, err = s.draws.AdvanceRound(ctx)
		return err
	})
	return round, err
}

func (s *Session) Resume(ctx context.Context) error {
	return s.do(ctx, s.draws.Resume)
}

func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, s.draws.Pause)
}

func (s *Session) FinishRoom(ctx context.Context) error {
	return s.do(ctx, s.draws.FinishRoom)
}

func (s *Session) Approve(ctx context.Context, participantID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.admission.Approve(ctx, participantID)
	})
}

func (s *Session) Reject(ctx context.Context, participantID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.admission.Reject(ctx, participantID)
	})
}

// Resubscribe replaces a failed feed subscription.
func (s *Session) Resubscribe(ctx context.Context) error {
	return s.do(ctx, s.subscribe)
}

// Card returns the current round's card.
func (s *Session) Card(ctx context.Context) (bingo.Card, error) {
	var card bingo.Card
	err := s.do(ctx, func(ctx context.Context) error {
		room, ok := s.mirror.Room()
		if !ok {
			return &SyncError{Op: "card", Err: ErrRoomNotLoaded}
		}
		if _, err := s.grids.Card(ctx, room.CurrentRound); err != nil {
			return err
		}
		card, _ = s.grids.Snapshot()
		return nil
	})
	return card, err
}

// Mark toggles n on the current card and reports whether it is now marked.
func (s *Session) Mark(ctx context.Context, n int) (bool, error) {
	var marked bool
	err := s.do(ctx, func(ctx context.Context) error {
		room, ok := s.mirror.Room()
		if !ok {
			return &SyncError{Op: "mark", Err: ErrRoomNotLoaded}
		}
		var err error
		marked, err = s.grids.Toggle(ctx, room.CurrentRound, n, room.DrawnNumbers)
		return err
	})
	return marked, err
}

// Claim submits the current card. An empty pattern claims the best
// pattern the card satisfies.
func (s *Session) Claim(ctx context.Context, pattern models.Pattern) (models.PrizeClaim, error) {
	var claim models.PrizeClaim
	err := s.do(ctx, func(ctx context.Context) error {
		room, ok := s.mirror.Room()
		if !ok {
			return &SyncError{Op: "claim", Err: ErrRoomNotLoaded}
		}
		card, err := s.grids.Card(ctx, room.CurrentRound)
		if err != nil {
			return err
		}
		claim, err = s.arbiter.Claim(ctx, card, pattern)
		return err
	})
	return claim, err
}
