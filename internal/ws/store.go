package ws

import (
	"context"
	"time"

	"github.com/portalchat/internal/model"
)

// ConversationStore is the slice of the durable store the hub needs.
// Implemented by repository.ConversationRepository (Postgres) and by
// store/memory for dev and tests.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// RecordMessage bumps last_message_at and reopens the conversation if it
	// was closed. A new inbound message always reopens.
	RecordMessage(ctx context.Context, id string, at time.Time) error
	// Assign sets the assigned agent and returns the previously assigned one
	// (nil if the conversation was unassigned). Last writer wins; a second
	// assignment is a transfer, not an error.
	Assign(ctx context.Context, id, agentID string) (previous *string, err error)
}

// MessageStore persists messages and answers unread queries.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	// MarkRead flips is_read for the given ids, skipping messages sent by
	// readerID, and returns the ids actually affected. Already-read ids are
	// not returned, which makes duplicate receipts harmless.
	MarkRead(ctx context.Context, conversationID, readerID string, ids []string) ([]string, error)
	UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error)
}

// CounterCache holds best-effort unread counters keyed by
// (conversation, viewer) so fan-out does not hit Postgres per recipient.
// A miss means the authoritative count must be recomputed.
type CounterCache interface {
	Incr(ctx context.Context, conversationID, viewerID string) (n int, hit bool, err error)
	Set(ctx context.Context, conversationID, viewerID string, n int) error
	Reset(ctx context.Context, conversationID, viewerID string) error
	// Invalidate drops every viewer's counter for a conversation. Used on
	// assignment handoff, when cached values stop being meaningful.
	Invalidate(ctx context.Context, conversationID string) error
	Close() error
}

// PushNotifier sends push notifications. If nil, pushes are disabled.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}
