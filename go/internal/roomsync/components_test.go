package roomsync

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/mcdev12/bingolive/go/internal/bingo"
	"github.com/mcdev12/bingolive/go/internal/feed"
	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/mcdev12/bingolive/go/internal/store"
)

func TestBusOrderAndClose(t *testing.T) {
	ctx := context.Background()
	b := NewBus()
	b.Post(msgPollTick{})
	b.Post(msgGuardRetry{})

	m, err := b.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, ok := m.(msgPollTick); !ok {
		t.Fatalf("first message = %T, want msgPollTick", m)
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}

	b.Close()
	if b.Post(msgPollTick{}) {
		t.Fatalf("Post after Close succeeded")
	}
	if _, err := b.Next(ctx); !errors.Is(err, errBusClosed) {
		t.Fatalf("Next after Close = %v, want errBusClosed", err)
	}
}

func TestBusNextHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewBus().Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want deadline exceeded", err)
	}
}

func TestLedgerSlots(t *testing.T) {
	l := NewClaimLedger(1)
	row := models.PrizeClaim{ID: "c1", WinnerID: "u1", Pattern: models.PatternFiveInRow, Round: 1}

	tests := []struct {
		name  string
		claim models.PrizeClaim
		want  bool
	}{
		{"first secondary", row, true},
		{"same claim again", row, false},
		{"other secondary", models.PrizeClaim{ID: "c2", WinnerID: "u2", Pattern: models.PatternCorners, Round: 1}, false},
		{"wrong round", models.PrizeClaim{ID: "c3", WinnerID: "u2", Pattern: models.PatternFullCard, Round: 2}, false},
		{"full card", models.PrizeClaim{ID: "c4", WinnerID: "u2", Pattern: models.PatternFullCard, Round: 1}, true},
		{"second full card", models.PrizeClaim{ID: "c5", WinnerID: "u3", Pattern: models.PatternFullCard, Round: 1}, false},
	}
	for _, tt := range tests {
		if got := l.Record(tt.claim); got != tt.want {
			t.Fatalf("%s: Record = %v, want %v", tt.name, got, tt.want)
		}
	}
	if !l.Has(models.PatternFiveInRow, "u1") || !l.SecondaryAwarded() || !l.FullCardAwarded() {
		t.Fatalf("ledger state wrong: %+v", l.Claims())
	}

	l.Reset(2)
	if len(l.Claims()) != 0 || l.Round() != 2 {
		t.Fatalf("Reset left %+v in round %d", l.Claims(), l.Round())
	}
}

func TestMirrorOverlayDiscardedOnRefresh(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)
	fx.join(t, "p1", "u1", models.ParticipantStatusPending)

	m := NewRoomMirror(testRoom, fx.repo, nil)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.Stage("p1", models.ParticipantStatusAccepted)
	if _, accepted := m.Partition(); len(accepted) != 1 {
		t.Fatalf("staged approval not visible")
	}
	if err := m.RefreshParticipants(ctx); err != nil {
		t.Fatalf("RefreshParticipants: %v", err)
	}
	pending, accepted := m.Partition()
	if len(pending) != 1 || len(accepted) != 0 || m.Staged() != 0 {
		t.Fatalf("after refresh pending=%d accepted=%d staged=%d", len(pending), len(accepted), m.Staged())
	}
}

func TestMirrorKeepsSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)
	fx.join(t, "p1", "u1", models.ParticipantStatusAccepted)

	m := NewRoomMirror(testRoom, fx.repo, nil)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fx.st.FailWith(errors.New("connection reset"))
	err := m.RefreshParticipants(ctx)
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("err = %v, want SyncError", err)
	}
	if stale, _ := m.Stale(); !stale {
		t.Fatalf("mirror not marked stale")
	}
	if _, accepted := m.Partition(); len(accepted) != 1 {
		t.Fatalf("previous participants lost")
	}

	fx.st.FailWith(nil)
	if err := m.RefreshRoom(ctx); err != nil {
		t.Fatalf("RefreshRoom: %v", err)
	}
	if stale, _ := m.Stale(); stale {
		t.Fatalf("mirror still stale after a good read")
	}
}

func TestMirrorDropsStalePatches(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, func(r *models.Room) {
		r.CurrentRound = 2
		r.DrawnNumbers = []int{4, 8, 15}
	})
	m := NewRoomMirror(testRoom, fx.repo, nil)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	oldRound := 1
	older := []int{4, 8, 15, 16, 23}
	if m.ApplyPatch(repository.RoomPatch{CurrentRound: &oldRound, DrawnNumbers: &older}) {
		t.Fatalf("patch from an earlier round applied")
	}

	shorter := []int{4, 8}
	m.ApplyPatch(repository.RoomPatch{DrawnNumbers: &shorter})
	if room, _ := m.Room(); len(room.DrawnNumbers) != 3 {
		t.Fatalf("drawn = %v, want history kept", room.DrawnNumbers)
	}

	longer := []int{4, 8, 15, 16}
	if !m.ApplyPatch(repository.RoomPatch{DrawnNumbers: &longer}) {
		t.Fatalf("newer patch rejected")
	}
	if room, _ := m.Room(); len(room.DrawnNumbers) != 4 {
		t.Fatalf("drawn = %v, want 4 numbers", room.DrawnNumbers)
	}
}

func TestCountdown(t *testing.T) {
	last := epoch
	room := models.Room{DrawIntervalSeconds: 5, LastDrawTimestamp: &last}
	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{2 * time.Second, 3 * time.Second},
		{9 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := Countdown(room, epoch.Add(tt.elapsed)); got != tt.want {
			t.Fatalf("Countdown after %v = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
	if got := Countdown(models.Room{DrawIntervalSeconds: 5}, epoch); got != 5*time.Second {
		t.Fatalf("Countdown without draws = %v", got)
	}
}

// rowGrid has row 0 = 5 12 0 47 9 and corners 5 9 60 64.
func rowGrid() bingo.Grid {
	return bingo.Grid{
		{5, 12, 0, 47, 9},
		{20, 21, 22, 23, 24},
		{30, 31, 32, 33, 34},
		{50, 51, 52, 53, 54},
		{60, 61, 62, 63, 64},
	}
}

func cornersGrid() bingo.Grid {
	return bingo.Grid{
		{5, 20, 21, 22, 9},
		{25, 26, 27, 28, 29},
		{30, 31, 0, 33, 34},
		{50, 51, 52, 53, 54},
		{47, 61, 62, 63, 12},
	}
}

func card(g bingo.Grid, marks ...int) *bingo.Card {
	c := bingo.NewCard(g)
	for _, n := range marks {
		c.Marks[n] = true
	}
	return c
}

func TestClaimFiveInRow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, func(r *models.Room) { r.DrawnNumbers = []int{5, 12, 47, 9} })
	a, mirror := fx.arbiter(t, "u1")

	claim, err := a.Claim(ctx, card(rowGrid(), 5, 12, 47, 9), models.PatternFiveInRow)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Prize != 300 {
		t.Fatalf("prize = %d, want 300", claim.Prize)
	}
	// The free cell is part of the row but never reported as a number.
	if want := []int{5, 12, 47, 9}; !slices.Equal(claim.WinningNumbers, want) {
		t.Fatalf("winning numbers = %v, want %v", claim.WinningNumbers, want)
	}
	if !mirror.Paused() || mirror.RoundEnded() {
		t.Fatalf("paused=%v roundEnded=%v after secondary win", mirror.Paused(), mirror.RoundEnded())
	}
	published := fx.feed.Published()
	if len(published) != 1 || published[0].Event != feed.EventWinner {
		t.Fatalf("published = %+v, want one winner broadcast", published)
	}

	_, err = a.Claim(ctx, card(rowGrid(), 5, 12, 47, 9), models.PatternFiveInRow)
	if !IsClaimRejected(err, ReasonAlreadyClaimed) {
		t.Fatalf("repeat claim err = %v, want ALREADY_CLAIMED", err)
	}
	if len(a.ledger.Claims()) != 1 {
		t.Fatalf("ledger changed by repeat claim")
	}
}

// Row 0 is [5,12,0,47,9]. With only 5, 12 and 47 drawn, 9 cannot be
// marked, so the row is one cell short and nothing is awarded.
func TestClaimRowMissingOneCell(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, func(r *models.Room) { r.DrawnNumbers = []int{5, 12, 47} })
	a, mirror := fx.arbiter(t, "u1")

	c := card(rowGrid(), 5, 12, 0, 47)
	_, err := a.Claim(ctx, c, models.PatternFiveInRow)
	if !IsClaimRejected(err, ReasonNotAWinner) {
		t.Fatalf("Claim err = %v, want NOT_A_WINNER", err)
	}
	if len(a.ledger.Claims()) != 0 || len(fx.feed.Published()) != 0 {
		t.Fatalf("rejected claim left ledger=%v published=%v", a.ledger.Claims(), fx.feed.Published())
	}
	if mirror.Paused() {
		t.Fatalf("round paused by a rejected claim")
	}

	// Once 9 is drawn and marked the same card wins floor(1000*0.3).
	if err := fx.repo.RecordDraw(ctx, testRoom, []int{5, 12, 47, 9}, epoch); err != nil {
		t.Fatalf("RecordDraw: %v", err)
	}
	if err := mirror.RefreshRoom(ctx); err != nil {
		t.Fatalf("RefreshRoom: %v", err)
	}
	if _, err := c.Toggle(9, []int{5, 12, 47, 9}); err != nil {
		t.Fatalf("Toggle(9): %v", err)
	}
	claim, err := a.Claim(ctx, c, models.PatternFiveInRow)
	if err != nil {
		t.Fatalf("Claim after 9: %v", err)
	}
	if claim.Prize != 300 {
		t.Fatalf("prize = %d, want 300", claim.Prize)
	}
}

func TestClaimRejections(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, func(r *models.Room) { r.DrawnNumbers = []int{5, 12, 47} })
	a, _ := fx.arbiter(t, "u1")

	tests := []struct {
		name    string
		card    *bingo.Card
		pattern models.Pattern
		want    ClaimReason
	}{
		{"undrawn mark", card(rowGrid(), 5, 12, 47, 9), models.PatternFiveInRow, ReasonInvalidMark},
		{"incomplete row", card(rowGrid(), 5, 12, 47), models.PatternFiveInRow, ReasonNotAWinner},
		{"nothing to detect", card(rowGrid(), 5), "", ReasonNotAWinner},
		{"unknown pattern", card(rowGrid(), 5), "diamond", ReasonNotAWinner},
	}
	for _, tt := range tests {
		_, err := a.Claim(ctx, tt.card, tt.pattern)
		if !IsClaimRejected(err, tt.want) {
			t.Fatalf("%s: err = %v, want %s", tt.name, err, tt.want)
		}
	}
	if n := fx.st.Calls("insert", store.TablePrizeClaims); n != 0 {
		t.Fatalf("rejected claims wrote %d rows", n)
	}
}

func TestSecondaryAlreadyAwarded(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, func(r *models.Room) { r.DrawnNumbers = []int{5, 12, 47, 9} })
	first, _ := fx.arbiter(t, "u1")
	if _, err := first.Claim(ctx, card(rowGrid(), 5, 12, 47, 9), models.PatternFiveInRow); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// The second client has applied the winner broadcast.
	second, _ := fx.arbiter(t, "u2")
	if applied, err := second.HandleWinner(ctx, fx.feed.Published()[0].Payload); err != nil || !applied {
		t.Fatalf("HandleWinner = %v, %v", applied, err)
	}
	_, err := second.Claim(ctx, card(cornersGrid(), 5, 9, 47, 12), models.PatternCorners)
	if !IsClaimRejected(err, ReasonSecondaryAwarded) {
		t.Fatalf("err = %v, want SECONDARY_AWARDED", err)
	}
	if err.Error() != "secondary prize already awarded" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestConcurrentClaimsEarliestWriteWins(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, func(r *models.Room) { r.DrawnNumbers = []int{5, 12, 47, 9} })

	// Neither client has seen the other's claim.
	first, _ := fx.arbiter(t, "u1")
	second, secondMirror := fx.arbiter(t, "u2")

	won, err := first.Claim(ctx, card(rowGrid(), 5, 12, 47, 9), models.PatternFiveInRow)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err = second.Claim(ctx, card(cornersGrid(), 5, 9, 47, 12), models.PatternCorners)
	if !IsClaimRejected(err, ReasonSecondaryAwarded) {
		t.Fatalf("second claim err = %v, want SECONDARY_AWARDED", err)
	}

	claims := second.ledger.Claims()
	if len(claims) != 1 || claims[0].ID != won.ID {
		t.Fatalf("loser ledger = %+v, want the winning claim", claims)
	}
	if !secondMirror.Paused() {
		t.Fatalf("loser not paused after learning the outcome")
	}
	stored, err := fx.repo.RoundClaims(ctx, testRoom, 1)
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored claims = %v, %v, want 1", stored, err)
	}
}

func TestFullCardEndsRound(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	g := validGrid()
	fx.seedRoom(t, func(r *models.Room) { r.DrawnNumbers = g.Cells() })
	a, mirror := fx.arbiter(t, "u1")

	c := card(g, g.Cells()...)
	claim, err := a.Claim(ctx, c, "")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Pattern != models.PatternFullCard || claim.Prize != 700 {
		t.Fatalf("claim = %s %d, want full card 700", claim.Pattern, claim.Prize)
	}
	if !mirror.RoundEnded() {
		t.Fatalf("round not ended after full card")
	}
	if _, err := a.Claim(ctx, c, models.PatternFiveInRow); !IsClaimRejected(err, ReasonRoundEnded) {
		t.Fatalf("claim after full card = %v, want ROUND_ENDED", err)
	}
}

func TestWinnerBroadcastAppliedOnce(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)
	a, _ := fx.arbiter(t, "u2")

	var outcomes int
	a.onOutcome = func(models.PrizeClaim) { outcomes++ }

	payload := []byte(`{"id":"c1","room_id":"room-1","winner_id":"u1","pattern":"corners","round":1,"prize":300}`)
	for i := 0; i < 2; i++ {
		if _, err := a.HandleWinner(ctx, payload); err != nil {
			t.Fatalf("HandleWinner: %v", err)
		}
	}
	if outcomes != 1 {
		t.Fatalf("outcomes = %d, want 1", outcomes)
	}
	stale := []byte(`{"id":"c0","room_id":"room-1","winner_id":"u1","pattern":"full_card","round":0}`)
	if applied, _ := a.HandleWinner(ctx, stale); applied {
		t.Fatalf("claim from an earlier round applied")
	}
	if _, err := a.HandleWinner(ctx, []byte(`{"id":""}`)); err == nil {
		t.Fatalf("incomplete payload accepted")
	}
}

func TestGuardRejectsOnFeedEvent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)
	fx.join(t, "p2", "u2", models.ParticipantStatusPending)

	bus := NewBus()
	mirror := NewRoomMirror(testRoom, fx.repo, nil)
	if err := mirror.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	g := NewAccessGuard(testRoom, "u2", mirror, fx.repo, fx.clock, 0, 0, bus.Post)

	fx.setStatus(t, "p2", models.ParticipantStatusRejected)
	// One participant event: the mirror refreshes and the guard re-runs.
	if err := mirror.RefreshParticipants(ctx); err != nil {
		t.Fatalf("RefreshParticipants: %v", err)
	}
	r := g.Check(ctx, FeedSubscribed, false)
	if r == nil || r.Reason != RedirectRejected {
		t.Fatalf("redirect = %+v, want rejected", r)
	}
	if g.State() != GuardRejected || g.Retries() != 0 {
		t.Fatalf("state=%s retries=%d, want REJECTED with no retries", g.State(), g.Retries())
	}
}

func TestGuardInertWhileFeedDown(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)

	mirror := NewRoomMirror(testRoom, fx.repo, nil)
	if err := mirror.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	g := NewAccessGuard(testRoom, "ghost", mirror, fx.repo, fx.clock, 0, 0, NewBus().Post)

	for _, state := range []FeedState{FeedIdle, FeedSubscribing, FeedError} {
		if r := g.Check(ctx, state, false); r != nil {
			t.Fatalf("Check with feed %s redirected", state)
		}
	}
	if g.State() != GuardUnknown || g.Retries() != 0 {
		t.Fatalf("state=%s retries=%d, want untouched", g.State(), g.Retries())
	}
}

func TestGuardRetriesThenUnauthorized(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)

	mirror := NewRoomMirror(testRoom, fx.repo, nil)
	if err := mirror.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	g := NewAccessGuard(testRoom, "ghost", mirror, fx.repo, fx.clock, 3, 2*time.Second, NewBus().Post)

	for attempt := 1; attempt <= 3; attempt++ {
		if r := g.Check(ctx, FeedSubscribed, attempt > 1); r != nil {
			t.Fatalf("attempt %d redirected early", attempt)
		}
		if g.Retries() != attempt {
			t.Fatalf("retries = %d, want %d", g.Retries(), attempt)
		}
		// A mirror update while a retry is scheduled consumes nothing.
		g.Check(ctx, FeedSubscribed, false)
		if g.Retries() != attempt {
			t.Fatalf("retry consumed outside the timer")
		}
	}
	r := g.Check(ctx, FeedSubscribed, true)
	if r == nil || r.Reason != RedirectUnauthorized || g.State() != GuardUnauthorized {
		t.Fatalf("final check = %+v state %s, want unauthorized", r, g.State())
	}
}

func TestAdmissionRejectCountsRejections(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)
	fx.join(t, "p1", "u1", models.ParticipantStatusPending)

	mirror := NewRoomMirror(testRoom, fx.repo, nil)
	if err := mirror.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	adm := NewAdmission(testRoom, "host", mirror, fx.repo)
	if err := adm.Reject(ctx, "p1"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	pending, accepted := mirror.Partition()
	if len(pending)+len(accepted) != 0 {
		t.Fatalf("rejected participant still listed")
	}
	ban, err := fx.repo.Ban(ctx, testRoom, "u1")
	if err != nil || ban == nil || ban.RejectionCount != 1 {
		t.Fatalf("ban = %+v, %v", ban, err)
	}

	if err := NewAdmission(testRoom, "u1", mirror, fx.repo).Approve(ctx, "p1"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("non-host approve = %v, want ErrNotHost", err)
	}
}

func TestAdmissionWriteFailureRestores(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedRoom(t, nil)
	fx.join(t, "p1", "u1", models.ParticipantStatusPending)

	mirror := NewRoomMirror(testRoom, fx.repo, nil)
	if err := mirror.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	fx.st.FailWith(errors.New("write refused"))
	err := NewAdmission(testRoom, "host", mirror, fx.repo).Approve(ctx, "p1")
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("err = %v, want SyncError", err)
	}
	if pending, _ := mirror.Partition(); len(pending) != 1 || mirror.Staged() != 0 {
		t.Fatalf("optimistic approval survived the failure")
	}
}
