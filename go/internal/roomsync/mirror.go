package roomsync

import (
	"context"
	"sort"
	"sync"

	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/repository"
)

// MirrorChange says which parts of the mirror were replaced or patched.
type MirrorChange struct {
	Room         bool
	Participants bool
	Local        bool
}

// RoomMirror is the client-side copy of a room and its participants. The
// store is authoritative: every refresh replaces the snapshot, and staged
// optimistic changes are discarded by the next participant refresh.
type RoomMirror struct {
	roomID   string
	repo     *repository.Repository
	onChange func(MirrorChange)

	mu           sync.RWMutex
	room         *models.Room
	participants []models.Participant
	overlay      map[string]models.ParticipantStatus
	stale        bool
	lastErr      error
	paused       bool
	roundEnded   bool
}

func NewRoomMirror(roomID string, repo *repository.Repository, onChange func(MirrorChange)) *RoomMirror {
	if onChange == nil {
		onChange = func(MirrorChange) {}
	}
	return &RoomMirror{roomID: roomID, repo: repo, onChange: onChange}
}

// Load fetches the room and its participants together.
func (m *RoomMirror) Load(ctx context.Context) error {
	room, err := m.fetchRoom(ctx)
	if err != nil {
		return m.fail(err)
	}
	parts, err := m.repo.Participants(ctx, m.roomID)
	if err != nil {
		return m.fail(&SyncError{Op: "load participants", Err: err})
	}

	m.mu.Lock()
	m.room = room
	m.participants = parts
	m.overlay = nil
	m.stale = false
	m.lastErr = nil
	m.mu.Unlock()

	m.onChange(MirrorChange{Room: true, Participants: true})
	return nil
}

// RefreshRoom replaces the room snapshot with the store's version.
func (m *RoomMirror) RefreshRoom(ctx context.Context) error {
	room, err := m.fetchRoom(ctx)
	if err != nil {
		return m.fail(err)
	}
	m.mu.Lock()
	m.room = room
	m.stale = false
	m.lastErr = nil
	m.mu.Unlock()

	m.onChange(MirrorChange{Room: true})
	return nil
}

// RefreshParticipants replaces the participant list and drops any staged
// changes.
func (m *RoomMirror) RefreshParticipants(ctx context.Context) error {
	parts, err := m.repo.Participants(ctx, m.roomID)
	if err != nil {
		return m.fail(&SyncError{Op: "refresh participants", Err: err})
	}
	m.mu.Lock()
	m.participants = parts
	m.overlay = nil
	m.stale = false
	m.lastErr = nil
	m.mu.Unlock()

	m.onChange(MirrorChange{Participants: true})
	return nil
}

func (m *RoomMirror) fetchRoom(ctx context.Context) (*models.Room, error) {
	room, err := m.repo.Room(ctx, m.roomID)
	if err != nil {
		return nil, &SyncError{Op: "load room", Err: err}
	}
	if room == nil {
		return nil, &SyncError{Op: "load room", Err: ErrRoomNotFound}
	}
	return room, nil
}

func (m *RoomMirror) fail(err error) error {
	m.mu.Lock()
	m.stale = true
	m.lastErr = err
	m.mu.Unlock()
	return err
}

// ApplyPatch merges a partial room update. Patches from an earlier round,
// or ones that would shrink the draw history within the same round, are
// stale deliveries and are dropped or trimmed.
func (m *RoomMirror) ApplyPatch(p repository.RoomPatch) bool {
	m.mu.Lock()
	if m.room == nil || p.Empty() {
		m.mu.Unlock()
		return false
	}
	if p.CurrentRound != nil && *p.CurrentRound < m.room.CurrentRound {
		m.mu.Unlock()
		return false
	}
	sameRound := p.CurrentRound == nil || *p.CurrentRound == m.room.CurrentRound
	if sameRound && p.DrawnNumbers != nil && len(*p.DrawnNumbers) < len(m.room.DrawnNumbers) {
		p.DrawnNumbers = nil
		p.LastDrawTimestamp = nil
		if p.Empty() {
			m.mu.Unlock()
			return false
		}
	}
	p.Apply(m.room)
	m.mu.Unlock()

	m.onChange(MirrorChange{Room: true})
	return true
}

// Room returns a copy of the room snapshot.
func (m *RoomMirror) Room() (models.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.room == nil {
		return models.Room{}, false
	}
	return m.room.Clone(), true
}

// Participants returns every participant with staged changes applied,
// ordered by join time then id.
func (m *RoomMirror) Participants() []models.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if s, ok := m.overlay[p.ID]; ok {
			p.Status = s
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Partition splits the participants into pending and accepted lists.
// Rejected participants appear in neither.
func (m *RoomMirror) Partition() (pending, accepted []models.Participant) {
	for _, p := range m.Participants() {
		switch p.Status {
		case models.ParticipantStatusPending:
			pending = append(pending, p)
		case models.ParticipantStatusAccepted:
			accepted = append(accepted, p)
		}
	}
	return pending, accepted
}

// ParticipantByUser finds the user's participant record.
func (m *RoomMirror) ParticipantByUser(userID string) (models.Participant, bool) {
	for _, p := range m.Participants() {
		if p.UserID == userID {
			return p, true
		}
	}
	return models.Participant{}, false
}

func (m *RoomMirror) ParticipantByID(id string) (models.Participant, bool) {
	for _, p := range m.Participants() {
		if p.ID == id {
			return p, true
		}
	}
	return models.Participant{}, false
}

// Stage records an optimistic status change pending confirmation.
func (m *RoomMirror) Stage(participantID string, status models.ParticipantStatus) {
	m.mu.Lock()
	if m.overlay == nil {
		m.overlay = make(map[string]models.ParticipantStatus)
	}
	m.overlay[participantID] = status
	m.mu.Unlock()
	m.onChange(MirrorChange{Participants: true})
}

// Unstage reverts a staged change.
func (m *RoomMirror) Unstage(participantID string) {
	m.mu.Lock()
	_, ok := m.overlay[participantID]
	delete(m.overlay, participantID)
	m.mu.Unlock()
	if ok {
		m.onChange(MirrorChange{Participants: true})
	}
}

// Staged returns the number of unconfirmed changes.
func (m *RoomMirror) Staged() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.overlay)
}

// Stale reports whether the last store read failed, along with its error.
func (m *RoomMirror) Stale() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale, m.lastErr
}

// Paused and RoundEnded are local sub-states of a playing room; they are
// not stored.
func (m *RoomMirror) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

func (m *RoomMirror) SetPaused(paused bool) {
	m.mu.Lock()
	changed := m.paused != paused
	m.paused = paused
	m.mu.Unlock()
	if changed {
		m.onChange(MirrorChange{Local: true})
	}
}

func (m *RoomMirror) RoundEnded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roundEnded
}

func (m *RoomMirror) SetRoundEnded(ended bool) {
	m.mu.Lock()
	changed := m.roundEnded != ended
	m.roundEnded = ended
	m.mu.Unlock()
	if changed {
		m.onChange(MirrorChange{Local: true})
	}
}
