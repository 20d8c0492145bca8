package roomsync

import (
	"context"

	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
	"github.com/rs/zerolog/log"
)

// Admission is the host's approve and reject flow. Changes are staged in
// the mirror first; a failed write restores the confirmed list.
type Admission struct {
	roomID string
	userID string
	mirror *RoomMirror
	repo   *repository.Repository
}

func NewAdmission(roomID, userID string, mirror *RoomMirror, repo *repository.Repository) *Admission {
	return &Admission{roomID: roomID, userID: userID, mirror: mirror, repo: repo}
}

func (a *Admission) participant(participantID string) (models.Room, models.Participant, error) {
	room, ok := a.mirror.Room()
	if !ok {
		return room, models.Participant{}, &SyncError{Op: "read room", Err: ErrRoomNotLoaded}
	}
	if room.HostID != a.userID {
		return room, models.Participant{}, ErrNotHost
	}
	p, ok := a.mirror.ParticipantByID(participantID)
	if !ok {
		return room, p, ErrUnknownParticipant
	}
	return room, p, nil
}

// Approve accepts a participant unless the room is at its player limit.
// A limit of zero means unlimited.
func (a *Admission) Approve(ctx context.Context, participantID string) error {
	room, p, err := a.participant(participantID)
	if err != nil {
		return err
	}
	if p.Status == models.ParticipantStatusAccepted {
		return nil
	}

	_, accepted := a.mirror.Partition()
	a.mirror.Stage(participantID, models.ParticipantStatusAccepted)
	if room.PlayerLimit > 0 && len(accepted) >= room.PlayerLimit {
		a.mirror.Unstage(participantID)
		return &CapacityExceeded{Limit: room.PlayerLimit, Accepted: len(accepted)}
	}

	if err := a.repo.SetParticipantStatus(ctx, participantID, models.ParticipantStatusAccepted); err != nil {
		a.restore(ctx, participantID)
		return &SyncError{Op: "approve", Err: err}
	}
	log.Info().Str("room_id", a.roomID).Str("participant_id", participantID).Msg("participant approved")
	return nil
}

// Reject refuses a participant and counts the rejection against the user.
func (a *Admission) Reject(ctx context.Context, participantID string) error {
	_, p, err := a.participant(participantID)
	if err != nil {
		return err
	}
	if p.Status == models.ParticipantStatusRejected {
		return nil
	}

	a.mirror.Stage(participantID, models.ParticipantStatusRejected)
	count, err := a.repo.IncrementRejections(ctx, a.roomID, p.UserID)
	if err != nil {
		a.restore(ctx, participantID)
		return &SyncError{Op: "reject", Err: err}
	}
	if err := a.repo.SetParticipantStatus(ctx, participantID, models.ParticipantStatusRejected); err != nil {
		a.restore(ctx, participantID)
		return &SyncError{Op: "reject", Err: err}
	}
	log.Info().
		Str("room_id", a.roomID).
		Str("participant_id", participantID).
		Int("rejections", count).
		Msg("participant rejected")
	return nil
}

func (a *Admission) restore(ctx context.Context, participantID string) {
	a.mirror.Unstage(participantID)
	if err := a.mirror.RefreshParticipants(ctx); err != nil {
		log.Warn().Err(err).Str("room_id", a.roomID).Msg("failed to restore participants")
	}
}
