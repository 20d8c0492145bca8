package roomsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/localstore"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/rewards"
	"github.com/rs/zerolog/log"
)

const creditTimeout = 10 * time.Second

// WinClaimArbiter validates the current user's claims, records admitted
// ones and applies every outcome it learns of, its own or broadcast,
// exactly once.
type WinClaimArbiter struct {
	roomID      string
	userID      string
	displayName string
	mirror      *RoomMirror
	repo        *repository.Repository
	feed        feed.Feed
	ledger      *ClaimLedger
	local       localstore.Store
	crediter    rewards.Crediter
	clock       clockwork.Clock
	onOutcome   func(models.PrizeClaim)
}

type ArbiterDeps struct {
	Mirror    *RoomMirror
	Repo      *repository.Repository
	Feed      feed.Feed
	Ledger    *ClaimLedger
	Local     localstore.Store
	Crediter  rewards.Crediter
	Clock     clockwork.Clock
	OnOutcome func(models.PrizeClaim)
}

func NewWinClaimArbiter(roomID, userID, displayName string, deps ArbiterDeps) *WinClaimArbiter {
	if deps.OnOutcome == nil {
		deps.OnOutcome = func(models.PrizeClaim) {}
	}
	return &WinClaimArbiter{
		roomID:      roomID,
		userID:      userID,
		displayName: displayName,
		mirror:      deps.Mirror,
		repo:        deps.Repo,
		feed:        deps.Feed,
		ledger:      deps.Ledger,
		local:       deps.Local,
		crediter:    deps.Crediter,
		clock:       deps.Clock,
		onOutcome:   deps.OnOutcome,
	}
}

// Evaluate checks card against the room without side effects. An empty
// pattern means "the best pattern the card satisfies".
func (a *WinClaimArbiter) Evaluate(room models.Room, card *bingo.Card, pattern models.Pattern) (models.Pattern, []int, error) {
	if room.Status != models.RoomStatusPlaying {
		return "", nil, &ClaimRejected{Reason: ReasonNotPlaying, Pattern: pattern}
	}
	if a.mirror.RoundEnded() || a.ledger.FullCardAwarded() {
		return "", nil, &ClaimRejected{Reason: ReasonRoundEnded, Pattern: pattern}
	}
	if err := bingo.ValidateMarks(card.Grid, card.Marks, room.DrawnNumbers); err != nil {
		return "", nil, &ClaimRejected{Reason: ReasonInvalidMark, Pattern: pattern, Err: err}
	}

	var nums []int
	if pattern == "" {
		p, n, ok := bingo.Detect(card.Grid, card.Marks, room.WinningPatterns)
		if !ok {
			return "", nil, &ClaimRejected{Reason: ReasonNotAWinner}
		}
		pattern, nums = p, n
	} else {
		if !pattern.Valid() || !room.WinningPatterns.Enabled(pattern) {
			return "", nil, &ClaimRejected{Reason: ReasonNotAWinner, Pattern: pattern}
		}
		n, ok := bingo.Match(pattern, card.Grid, card.Marks)
		if !ok {
			return "", nil, &ClaimRejected{Reason: ReasonNotAWinner, Pattern: pattern}
		}
		nums = n
	}

	if a.ledger.Has(pattern, a.userID) {
		return "", nil, &ClaimRejected{Reason: ReasonAlreadyClaimed, Pattern: pattern}
	}
	if pattern.IsSecondary() && a.ledger.SecondaryAwarded() {
		return "", nil, &ClaimRejected{Reason: ReasonSecondaryAwarded, Pattern: pattern}
	}
	return pattern, nums, nil
}

// Claim evaluates, records and broadcasts a win. When another client got
// the slot first the stored holder is applied and the claim is rejected.
func (a *WinClaimArbiter) Claim(ctx context.Context, card *bingo.Card, pattern models.Pattern) (models.PrizeClaim, error) {
	room, ok := a.mirror.Room()
	if !ok {
		return models.PrizeClaim{}, &SyncError{Op: "claim", Err: ErrRoomNotLoaded}
	}
	pattern, nums, err := a.Evaluate(room, card, pattern)
	if err != nil {
		return models.PrizeClaim{}, err
	}

	claim := models.PrizeClaim{
		ID:             uuid.New().String(),
		RoomID:         a.roomID,
		WinnerID:       a.userID,
		WinnerName:     a.displayName,
		Pattern:        pattern,
		Prize:          bingo.PrizeFor(pattern, room.PrizePool),
		Round:          room.CurrentRound,
		WinningNumbers: nums,
		ClaimedAt:      a.clock.Now().UTC(),
	}

	holder, won, err := a.repo.ClaimPrize(ctx, claim)
	if err != nil {
		return models.PrizeClaim{}, &SyncError{Op: "claim", Err: err}
	}
	if !won {
		a.ApplyOutcome(ctx, holder)
		reason := ReasonSecondaryAwarded
		if pattern == models.PatternFullCard {
			reason = ReasonRoundEnded
		}
		return models.PrizeClaim{}, &ClaimRejected{Reason: reason, Pattern: pattern}
	}

	if err := a.feed.Publish(ctx, feed.RoomTopic(a.roomID), feed.EventWinner, claim); err != nil {
		log.Error().Err(err).Str("room_id", a.roomID).Str("claim_id", claim.ID).Msg("failed to broadcast winner")
	}
	a.ApplyOutcome(ctx, claim)
	a.credit(claim)

	log.Info().
		Str("room_id", a.roomID).
		Str("winner_id", claim.WinnerID).
		Str("pattern", string(claim.Pattern)).
		Int("round", claim.Round).
		Int64("prize", claim.Prize).
		Msg("prize claimed")
	return claim, nil
}

// credit adds the winner's bonus in the background; a failure is logged
// and never affects the claim.
func (a *WinClaimArbiter) credit(c models.PrizeClaim) {
	if a.crediter == nil {
		return
	}
	credit := rewards.Credit{
		UserID:     c.WinnerID,
		RoomID:     c.RoomID,
		ClaimID:    c.ID,
		Amount:     bingo.RewardFor(c.Pattern),
		CreditedAt: c.ClaimedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), creditTimeout)
		defer cancel()
		if err := a.crediter.Credit(ctx, credit); err != nil {
			log.Warn().Err(err).Str("user_id", credit.UserID).Str("claim_id", credit.ClaimID).Msg("failed to credit reward")
		}
	}()
}

// ApplyOutcome records c in the ledger and pauses the round. Repeats and
// claims for a filled slot are ignored. It reports whether c was applied.
func (a *WinClaimArbiter) ApplyOutcome(ctx context.Context, c models.PrizeClaim) bool {
	if c.RoomID != a.roomID {
		return false
	}
	room, ok := a.mirror.Room()
	if !ok || c.Round < room.CurrentRound {
		return false
	}
	if c.Round > a.ledger.Round() {
		a.ledger.Reset(c.Round)
	}
	if !a.ledger.Record(c) {
		return false
	}
	a.persist(ctx)

	a.mirror.SetPaused(true)
	if c.Pattern == models.PatternFullCard {
		a.mirror.SetRoundEnded(true)
	}
	a.onOutcome(c)
	return true
}

// HandleWinner decodes a winner broadcast and applies it.
func (a *WinClaimArbiter) HandleWinner(ctx context.Context, payload json.RawMessage) (bool, error) {
	var c models.PrizeClaim
	if err := json.Unmarshal(payload, &c); err != nil {
		return false, fmt.Errorf("decode winner payload: %w", err)
	}
	if c.ID == "" || !c.Pattern.Valid() {
		return false, fmt.Errorf("decode winner payload: incomplete claim")
	}
	return a.ApplyOutcome(ctx, c), nil
}

// Seed loads the stored claims of round into the ledger without
// announcing them.
func (a *WinClaimArbiter) Seed(ctx context.Context, round int) error {
	claims, err := a.repo.RoundClaims(ctx, a.roomID, round)
	if err != nil {
		return &SyncError{Op: "load claims", Err: err}
	}
	if a.ledger.Round() != round {
		a.ledger.Reset(round)
	}
	for _, c := range claims {
		if a.ledger.Record(c) {
			a.mirror.SetPaused(true)
			if c.Pattern == models.PatternFullCard {
				a.mirror.SetRoundEnded(true)
			}
		}
	}
	a.persist(ctx)
	return nil
}

// Restore reads the persisted ledger, keeping it only for round.
func (a *WinClaimArbiter) Restore(ctx context.Context, round int) {
	var st ledgerState
	found, err := a.local.Load(ctx, localstore.LedgerKey(a.roomID, a.userID), &st)
	if err != nil {
		log.Warn().Err(err).Str("room_id", a.roomID).Msg("failed to load claim ledger")
	}
	if found && st.Round == round {
		a.ledger.restore(st)
		return
	}
	a.ledger.Reset(round)
}

// ResetRound clears the ledger for a new round.
func (a *WinClaimArbiter) ResetRound(ctx context.Context, round int) {
	a.ledger.Reset(round)
	a.persist(ctx)
}

func (a *WinClaimArbiter) persist(ctx context.Context) {
	if err := a.local.Save(ctx, localstore.LedgerKey(a.roomID, a.userID), a.ledger.state()); err != nil {
		log.Warn().Err(err).Str("room_id", a.roomID).Msg("failed to save claim ledger")
	}
}
