package roomsync

import (
	"errors"
	"fmt"

	"github.com/mcdev12/bingolive/go/internal/models"
)

var (
	ErrNotHost            = errors.New("only the host can do this")
	ErrNotPlaying         = errors.New("room is not playing")
	ErrPaused             = errors.New("round is paused")
	ErrDrawInFlight       = errors.New("a draw is already in flight")
	ErrDrawTooSoon        = errors.New("previous draw was too recent")
	ErrPoolExhausted      = errors.New("every number has been drawn")
	ErrInvalidTransition  = errors.New("invalid room status transition")
	ErrNoMoreRounds       = errors.New("no rounds left")
	ErrRoundEnded         = errors.New("round has ended")
	ErrNoIdentity         = errors.New("current user is unknown")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomNotLoaded      = errors.New("room not loaded")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrSessionClosed      = errors.New("session closed")
)

// SyncError reports a failed store read or write. The mirror keeps its
// previous snapshot when one occurs.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SubscriptionError reports a change feed failure.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ClaimReason says why a claim was not admitted.
type ClaimReason string

const (
	ReasonNotAWinner       ClaimReason = "NOT_A_WINNER"
	ReasonAlreadyClaimed   ClaimReason = "ALREADY_CLAIMED"
	ReasonSecondaryAwarded ClaimReason = "SECONDARY_AWARDED"
	ReasonRoundEnded       ClaimReason = "ROUND_ENDED"
	ReasonInvalidMark      ClaimReason = "INVALID_MARK"
	ReasonNotPlaying       ClaimReason = "NOT_PLAYING"
)

var claimMessages = map[ClaimReason]string{
	ReasonNotAWinner:       "not a winner yet",
	ReasonAlreadyClaimed:   "pattern already claimed this round",
	ReasonSecondaryAwarded: "secondary prize already awarded",
	ReasonRoundEnded:       "round already ended",
	ReasonInvalidMark:      "marked numbers were not drawn",
	ReasonNotPlaying:       "room is not playing",
}

// ClaimRejected is a domain-level refusal shown only to the claimant.
type ClaimRejected struct {
	Reason  ClaimReason
	Pattern models.Pattern
	Err     error
}

func (e *ClaimRejected) Error() string {
	msg := claimMessages[e.Reason]
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ClaimRejected) Unwrap() error { return e.Err }

// Unauthorized is the access guard's verdict against the current user.
type Unauthorized struct {
	Reason RedirectReason
}

func (e *Unauthorized) Error() string {
	return fmt.Sprintf("not allowed in the game: %s", e.Reason)
}

// CapacityExceeded is returned when approving would pass the player limit.
type CapacityExceeded struct {
	Limit    int
	Accepted int
}

func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("room is full: %d of %d players accepted", e.Accepted, e.Limit)
}

// IsClaimRejected reports whether err is a ClaimRejected with reason.
func IsClaimRejected(err error, reason ClaimReason) bool {
	var cr *ClaimRejected
	return errors.As(err, &cr) && cr.Reason == reason
}
