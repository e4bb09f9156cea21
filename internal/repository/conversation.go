package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
)

var ErrNotFound = errors.New("not found")

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, customer_id, assigned_agent_id, status, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.CustomerID, c.AssignedAgentID, c.Status, c.LastMessageAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.Get", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, assigned_agent_id, status, last_message_at, created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.CustomerID, &c.AssignedAgentID, &c.Status, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.Get: %w", err)
	}
	return c, nil
}

// RecordMessage bumps last_message_at and reopens a closed conversation.
func (r *ConversationRepository) RecordMessage(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("conv.RecordMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = $1, status = 'open' WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.RecordMessage: %w", err)
	}
	return nil
}

// Assign sets the assigned agent, returning the previous one (nil if none).
// Last writer wins: assigning over an existing assignment is a transfer.
func (r *ConversationRepository) Assign(ctx context.Context, id, agentID string) (*string, error) {
	defer logger.DeferLogDuration("conv.Assign", time.Now())()
	var previous *string
	err := r.pool.QueryRow(ctx,
		`UPDATE conversations c SET assigned_agent_id = $1
		 FROM (SELECT id, assigned_agent_id FROM conversations WHERE id = $2 FOR UPDATE) old
		 WHERE c.id = old.id
		 RETURNING old.assigned_agent_id`,
		agentID, id,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.Assign: %w", err)
	}
	return previous, nil
}

func (r *ConversationRepository) SetStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	defer logger.DeferLogDuration("conv.SetStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET status = $1 WHERE id = $2`, status, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForViewer returns the viewer's conversations with authoritative unread
// counts and last-message previews, newest activity first. Customers see
// their own threads; agents see threads assigned to them.
func (r *ConversationRepository) ListForViewer(ctx context.Context, viewerID string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conv.ListForViewer", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.customer_id, c.assigned_agent_id, c.status, c.last_message_at, c.created_at,
		        (SELECT COUNT(*) FROM messages m
		          WHERE m.conversation_id = c.id AND m.sender_id != $1 AND m.is_read = false) AS unread
		 FROM conversations c
		 WHERE c.customer_id = $1 OR c.assigned_agent_id = $1
		 ORDER BY c.last_message_at DESC`, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForViewer query: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConversationSummary, 0, 16)
	for rows.Next() {
		var s model.ConversationSummary
		if err := rows.Scan(&s.Conversation.ID, &s.Conversation.CustomerID, &s.Conversation.AssignedAgentID,
			&s.Conversation.Status, &s.Conversation.LastMessageAt, &s.Conversation.CreatedAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("convRepo.ListForViewer scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForViewer rows: %w", err)
	}

	for i := range out {
		last, err := r.lastMessage(ctx, out[i].Conversation.ID)
		if err != nil {
			return nil, err
		}
		out[i].LastMessage = last
	}
	return out, nil
}

// IsViewer reports whether viewerID may pull this conversation's state.
func (r *ConversationRepository) IsViewer(ctx context.Context, id, viewerID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsViewer", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations
		  WHERE id = $1 AND (customer_id = $2 OR assigned_agent_id = $2))`,
		id, viewerID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsViewer: %w", err)
	}
	return ok, nil
}

func (r *ConversationRepository) lastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	m := &model.Message{}
	var attURL, attName *string
	var attSize *int64
	err := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, content, attachment_url, attachment_name, attachment_size, is_read, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, conversationID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &attURL, &attName, &attSize, &m.IsRead, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.lastMessage: %w", err)
	}
	if attURL != nil {
		m.Attachment = &model.Attachment{URL: *attURL}
		if attName != nil {
			m.Attachment.Name = *attName
		}
		if attSize != nil {
			m.Attachment.Size = *attSize
		}
	}
	return m, nil
}
