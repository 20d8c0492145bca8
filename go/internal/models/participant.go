package models

import "time"

// ParticipantStatus defines the admission status of a participant.
type ParticipantStatus string

const (
	ParticipantStatusPending  ParticipantStatus = "pending"
	ParticipantStatusAccepted ParticipantStatus = "accepted"
	ParticipantStatusRejected ParticipantStatus = "rejected"
)

// Participant is a user's admission record for a room.
type Participant struct {
	ID          string            `json:"id"`
	RoomID      string            `json:"room_id"`
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	Status      ParticipantStatus `json:"status"`
	JoinedAt    time.Time         `json:"joined_at"`
}

// BanRecord counts explicit rejections of a user from a room.
type BanRecord struct {
	RoomID         string `json:"room_id"`
	UserID         string `json:"user_id"`
	RejectionCount int    `json:"rejection_count"`
}

// Profile is a user's persistent profile with an accumulated score.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Score       int64  `json:"score"`
}
