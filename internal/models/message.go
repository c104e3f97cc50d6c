package models

// Message represents a single chat message in a room's append-only log.
type Message struct {
	ID            string `json:"id"` // ULID, assigned at commit
	RoomID        string `json:"room_id"`
	SenderID      string `json:"from"`
	SenderDisplay string `json:"from_display,omitempty"` // sender email captured at send time
	Text          string `json:"text"`
	CreatedAt     int64  `json:"ts"` // Unix ms, commit clock
}

// Cursor identifies a position in a room's message log. Messages are
// totally ordered by (CreatedAt, ID); ULIDs make the ID tiebreak a plain
// string comparison.
type Cursor struct {
	CreatedAt int64  `json:"ts"`
	ID        string `json:"id"`
}

// Cursor returns the message's position in the log.
func (m *Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Before reports whether the message at cursor c committed strictly
// before m.
func (c Cursor) Before(m *Message) bool {
	if c.CreatedAt != m.CreatedAt {
		return c.CreatedAt < m.CreatedAt
	}
	return c.ID < m.ID
}

// IsZero reports whether the cursor is unset (start of the log).
func (c Cursor) IsZero() bool {
	return c.CreatedAt == 0 && c.ID == ""
}
