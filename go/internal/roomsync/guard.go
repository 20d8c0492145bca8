package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGuardRetries = 3
	DefaultGuardBackoff = 2 * time.Second
)

// GuardState is the access guard's verdict on the current user.
type GuardState string

const (
	GuardUnknown      GuardState = "UNKNOWN"
	GuardChecking     GuardState = "CHECKING"
	GuardAuthorized   GuardState = "AUTHORIZED"
	GuardPending      GuardState = "PENDING"
	GuardRejected     GuardState = "REJECTED"
	GuardUnauthorized GuardState = "UNAUTHORIZED"
)

// Terminal reports whether the state ends the session.
func (s GuardState) Terminal() bool {
	return s == GuardPending || s == GuardRejected || s == GuardUnauthorized
}

// RedirectReason says why the user is sent away from the game view.
type RedirectReason string

const (
	RedirectRejected     RedirectReason = "rejected"
	RedirectPending      RedirectReason = "pending"
	RedirectUnauthorized RedirectReason = "unauthorized"
	RedirectRemoved      RedirectReason = "removed"
	RedirectRoomFinished RedirectReason = "room_finished"
)

// Redirect is a request to leave the game view.
type Redirect struct {
	Reason RedirectReason `json:"reason"`
}

// AccessGuard decides whether the current non-host user may stay in the
// game view. Full checks only run while the feed is healthy and the user
// is known; a rejection visible in the mirror is acted on at once.
type AccessGuard struct {
	roomID     string
	userID     string
	mirror     *RoomMirror
	repo       *repository.Repository
	clock      clockwork.Clock
	post       func(Message) bool
	maxRetries int
	backoff    time.Duration

	mu       sync.Mutex
	state    GuardState
	retries  int
	inFlight bool
	timer    clockwork.Timer
	stopCh   chan struct{}
}

func NewAccessGuard(roomID, userID string, mirror *RoomMirror, repo *repository.Repository,
	clock clockwork.Clock, maxRetries int, backoff time.Duration, post func(Message) bool) *AccessGuard {
	if maxRetries <= 0 {
		maxRetries = DefaultGuardRetries
	}
	if backoff <= 0 {
		backoff = DefaultGuardBackoff
	}
	return &AccessGuard{
		roomID:     roomID,
		userID:     userID,
		mirror:     mirror,
		repo:       repo,
		clock:      clock,
		post:       post,
		maxRetries: maxRetries,
		backoff:    backoff,
		state:      GuardUnknown,
	}
}

func (g *AccessGuard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *AccessGuard) Retries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retries
}

// Check re-evaluates access. fromRetry marks the call made by the retry
// timer; other calls never consume a retry while one is scheduled.
func (g *AccessGuard) Check(ctx context.Context, feedState FeedState, fromRetry bool) *Redirect {
	if g.userID == "" {
		return nil
	}

	g.mu.Lock()
	if g.state.Terminal() || g.inFlight {
		g.mu.Unlock()
		return nil
	}
	if fromRetry {
		g.stopLocked()
	}
	waiting := g.timer != nil
	g.mu.Unlock()

	p, inMirror := g.mirror.ParticipantByUser(g.userID)
	if inMirror && p.Status == models.ParticipantStatusRejected {
		return g.settle(GuardRejected, RedirectRejected)
	}
	if feedState != FeedSubscribed {
		return nil
	}
	if inMirror && p.Status == models.ParticipantStatusAccepted {
		g.authorize()
		return nil
	}
	if waiting {
		return nil
	}

	g.mu.Lock()
	g.inFlight = true
	g.state = GuardChecking
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight = false
		g.mu.Unlock()
	}()

	direct, err := g.repo.ParticipantByUser(ctx, g.roomID, g.userID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", g.roomID).Str("user_id", g.userID).Msg("access lookup failed")
	}
	if err == nil && direct != nil {
		switch direct.Status {
		case models.ParticipantStatusRejected:
			return g.settle(GuardRejected, RedirectRejected)
		case models.ParticipantStatusPending:
			return g.settle(GuardPending, RedirectPending)
		case models.ParticipantStatusAccepted:
			g.authorize()
			// The mirror is behind the store.
			g.post(msgRefreshParticipants{})
			return nil
		}
	}

	g.mu.Lock()
	if g.retries >= g.maxRetries {
		g.mu.Unlock()
		return g.settle(GuardUnauthorized, RedirectUnauthorized)
	}
	g.retries++
	attempt := g.retries
	g.scheduleLocked()
	g.mu.Unlock()

	log.Debug().Str("room_id", g.roomID).Int("attempt", attempt).Msg("participant not found, retrying")
	g.post(msgRefreshParticipants{})
	return nil
}

func (g *AccessGuard) scheduleLocked() {
	t := g.clock.NewTimer(g.backoff)
	stop := make(chan struct{})
	g.timer, g.stopCh = t, stop
	go func() {
		select {
		case <-t.Chan():
			g.post(msgGuardRetry{})
		case <-stop:
		}
	}()
}

func (g *AccessGuard) authorize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GuardAuthorized
	g.retries = 0
	g.stopLocked()
}

func (g *AccessGuard) settle(state GuardState, reason RedirectReason) *Redirect {
	g.mu.Lock()
	g.state = state
	g.stopLocked()
	g.mu.Unlock()

	log.Info().Str("room_id", g.roomID).Str("user_id", g.userID).Str("state", string(state)).Msg("access denied")
	return &Redirect{Reason: reason}
}

func (g *AccessGuard) stopLocked() {
	if g.timer != nil {
		stopAndDrainTimer(g.timer)
		close(g.stopCh)
		g.timer, g.stopCh = nil, nil
	}
}

// Stop cancels a pending retry.
func (g *AccessGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
