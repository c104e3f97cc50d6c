package models

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls how a room can be joined.
type Visibility string

const (
	// VisibilityPublic rooms are listed for everyone and openly joinable.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate rooms are joinable only with their invite code.
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility value.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Room represents a named channel grouping participants and a message log.
type Room struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`

	// InviteCode is set if and only if the room is private. It is returned
	// to the creator once, at creation, and blanked everywhere else.
	InviteCode string `json:"invite_code,omitempty"`

	CreatedBy    string   `json:"created_by"`
	Participants []string `json:"participants"`

	// Denormalized preview of the most recent message, maintained
	// best-effort after each send. LastMessageAt is Unix milliseconds,
	// zero while the room has no messages.
	LastMessagePreview string `json:"last_message,omitempty"`
	LastMessageAt      int64  `json:"last_message_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Version backs optimistic concurrency on participant updates.
	Version int64 `json:"-"`
}

// HasParticipant reports whether userID is a member of the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	c := *r
	c.Participants = append([]string(nil), r.Participants...)
	return &c
}
