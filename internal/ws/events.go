package ws

import "github.com/portalchat/internal/model"

type EventType string

// Client → server.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
)

// Server → client.
const (
	EventNewMessage           EventType = "new_message"
	EventUserTyping           EventType = "user_typing"
	EventUserStoppedTyping    EventType = "user_stopped_typing"
	EventMessageRead          EventType = "message_read"
	EventUnreadCount          EventType = "unread_count"
	EventConversationAssigned EventType = "conversation_assigned"
	EventUnreadSyncRequired   EventType = "unread_sync_required"
	EventError                EventType = "error"
)

// Inbound is what a client sends to the server.
type Inbound struct {
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Content        string            `json:"content,omitempty"`
	Attachment     *model.Attachment `json:"attachment,omitempty"`
	MessageIDs     []string          `json:"message_ids,omitempty"`
}

// Outbound is what the server pushes to clients. Payload uses typed structs
// to avoid heap-heavy map[string]any on the fan-out path.
type Outbound struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload is relayed for user_typing / user_stopped_typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username,omitempty"`
}

// MessageReadPayload carries the ids a viewer just read.
type MessageReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	ReaderID       string   `json:"reader_id"`
	MessageIDs     []string `json:"message_ids"`
}

// UnreadCountPayload is a push delta: a best-effort estimate, not an
// authoritative value. Clients reconcile against the pull endpoint.
type UnreadCountPayload struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

// AssignedPayload announces an assignment handoff.
type AssignedPayload struct {
	ConversationID  string  `json:"conversation_id"`
	NewAgentID      string  `json:"new_agent_id"`
	PreviousAgentID *string `json:"previous_agent_id,omitempty"`
}

// UnreadSyncPayload tells a viewer its push-derived counters can no longer be
// trusted and a full pull is required.
type UnreadSyncPayload struct {
	UserID string `json:"user_id"`
}

// ErrorPayload is sent back on a rejected inbound event.
type ErrorPayload struct {
	Message string `json:"message"`
}
