package model

import "time"

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is one customer support thread. At most one agent is assigned
// at a time; AssignedAgentID is nil until the first handoff.
type Conversation struct {
	ID              string             `json:"id"`
	CustomerID      string             `json:"customer_id"`
	AssignedAgentID *string            `json:"assigned_agent_id,omitempty"`
	Status          ConversationStatus `json:"status"`
	LastMessageAt   time.Time          `json:"last_message_at"`
	CreatedAt       time.Time          `json:"created_at"`
}

// ConversationSummary is what the conversation-list pull returns: the
// conversation plus the viewer's authoritative unread count and the last
// message for list previews.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}
