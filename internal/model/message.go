package model

import "time"

// Attachment is an already-uploaded file reference. Upload mechanics live in
// the portal's file service; the sync layer only carries the reference.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is immutable after creation except IsRead, which is mutated only by
// read-receipt events (never by the sender).
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	IsRead         bool        `json:"is_read"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Before reports whether m sorts before other in display order. Arrival order
// over the transport does not match chronological order when both sides send
// concurrently, so display order is (created_at, id) ascending.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
