// Package repository maps rooms, participants, bans and prize claims onto
// the generic store.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/store"
)

type Repository struct {
	st store.Store
}

func New(st store.Store) *Repository {
	return &Repository{st: st}
}

// Room returns the room, or nil when it does not exist.
func (r *Repository) Room(ctx context.Context, roomID string) (*models.Room, error) {
	rec, err := r.st.Get(ctx, store.TableRooms, store.Filter{"id": roomID})
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	room, err := RoomFromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom inserts or replaces a room.
func (r *Repository) CreateRoom(ctx context.Context, room models.Room) error {
	if _, err := r.st.Upsert(ctx, store.TableRooms, RoomToRecord(room), []string{"id"}); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

// Participants returns every participant of the room. Malformed rows are
// reported as an error rather than skipped.
func (r *Repository) Participants(ctx context.Context, roomID string) ([]models.Participant, error) {
	recs, err := r.st.List(ctx, store.TableParticipants, store.Filter{"room_id": roomID})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	out := make([]models.Participant, 0, len(recs))
	for _, rec := range recs {
		p, err := ParticipantFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParticipantByUser looks the user up directly, or returns nil when absent.
func (r *Repository) ParticipantByUser(ctx context.Context, roomID, userID string) (*models.Participant, error) {
	rec, err := r.st.Get(ctx, store.TableParticipants, store.Filter{"room_id": roomID, "user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	p, err := ParticipantFromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Join creates the user's participant record, keeping an existing one.
func (r *Repository) Join(ctx context.Context, p models.Participant) (models.Participant, error) {
	rec, _, err := r.st.Insert(ctx, store.TableParticipants, ParticipantToRecord(p), []string{"room_id", "user_id"})
	if err != nil {
		return models.Participant{}, fmt.Errorf("failed to join room: %w", err)
	}
	return ParticipantFromRecord(rec)
}

func (r *Repository) SetParticipantStatus(ctx context.Context, participantID string, status models.ParticipantStatus) error {
	err := r.st.Update(ctx, store.TableParticipants, store.Record{"status": string(status)}, store.Filter{"id": participantID})
	if err != nil {
		return fmt.Errorf("failed to set participant status: %w", err)
	}
	return nil
}

// IncrementRejections bumps the user's rejection count, creating the ban
// record on first rejection, and returns the new count.
func (r *Repository) IncrementRejections(ctx context.Context, roomID, userID string) (int, error) {
	rec, err := r.st.Increment(ctx, store.TableRoomBans, store.Record{"room_id": roomID, "user_id": userID}, "rejection_count", 1)
	if err != nil {
		return 0, fmt.Errorf("failed to increment ban record: %w", err)
	}
	count, err := rec.Int("rejection_count")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return count, nil
}

// Ban returns the user's ban record, or nil.
func (r *Repository) Ban(ctx context.Context, roomID, userID string) (*models.BanRecord, error) {
	rec, err := r.st.Get(ctx, store.TableRoomBans, store.Filter{"room_id": roomID, "user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get ban record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	count, err := rec.Int("rejection_count")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &models.BanRecord{RoomID: roomID, UserID: userID, RejectionCount: count}, nil
}

// RecordDraw writes the draw history and its timestamp in one update.
func (r *Repository) RecordDraw(ctx context.Context, roomID string, drawn []int, at time.Time) error {
	err := r.st.Update(ctx, store.TableRooms, store.Record{
		"drawn_numbers":       append([]int{}, drawn...),
		"last_draw_timestamp": at,
	}, store.Filter{"id": roomID})
	if err != nil {
		return fmt.Errorf("failed to record draw: %w", err)
	}
	return nil
}

// AdvanceRound clears the draw history and moves to round.
func (r *Repository) AdvanceRound(ctx context.Context, roomID string, round int) error {
	err := r.st.Update(ctx, store.TableRooms, store.Record{
		"drawn_numbers":       []int{},
		"current_round":       round,
		"status":              string(models.RoomStatusPlaying),
		"last_draw_timestamp": nil,
	}, store.Filter{"id": roomID})
	if err != nil {
		return fmt.Errorf("failed to advance round: %w", err)
	}
	return nil
}

// StartRoom moves the room to playing at round.
func (r *Repository) StartRoom(ctx context.Context, roomID string, round int) error {
	err := r.st.Update(ctx, store.TableRooms, store.Record{
		"status":        string(models.RoomStatusPlaying),
		"current_round": round,
	}, store.Filter{"id": roomID})
	if err != nil {
		return fmt.Errorf("failed to start room: %w", err)
	}
	return nil
}

func (r *Repository) FinishRoom(ctx context.Context, roomID string) error {
	err := r.st.Update(ctx, store.TableRooms, store.Record{
		"status": string(models.RoomStatusFinished),
	}, store.Filter{"id": roomID})
	if err != nil {
		return fmt.Errorf("failed to finish room: %w", err)
	}
	return nil
}

// ClaimPrize records the claim in its round slot. When another claim
// already holds the slot, that claim is returned with won=false.
func (r *Repository) ClaimPrize(ctx context.Context, c models.PrizeClaim) (models.PrizeClaim, bool, error) {
	rec, inserted, err := r.st.Insert(ctx, store.TablePrizeClaims, ClaimToRecord(c),
		[]string{"room_id", "round_number", "prize_slot"})
	if err != nil {
		return models.PrizeClaim{}, false, fmt.Errorf("failed to record prize claim: %w", err)
	}
	if inserted {
		return c, true, nil
	}
	holder, err := ClaimFromRecord(rec)
	if err != nil {
		return models.PrizeClaim{}, false, err
	}
	return holder, holder.ID == c.ID, nil
}

// RoundClaims lists the prize claims of a round.
func (r *Repository) RoundClaims(ctx context.Context, roomID string, round int) ([]models.PrizeClaim, error) {
	recs, err := r.st.List(ctx, store.TablePrizeClaims, store.Filter{"room_id": roomID, "round_number": round})
	if err != nil {
		return nil, fmt.Errorf("failed to list prize claims: %w", err)
	}
	out := make([]models.PrizeClaim, 0, len(recs))
	for _, rec := range recs {
		c, err := ClaimFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
