package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	var attURL, attName *string
	var attSize *int64
	if m.Attachment != nil {
		attURL, attName, attSize = &m.Attachment.URL, &m.Attachment.Name, &m.Attachment.Size
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url, attachment_name, attachment_size, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ConversationID, m.SenderID, m.Content, attURL, attName, attSize, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// History returns a conversation's messages in display order:
// (created_at, id) ascending.
func (r *MessageRepository) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, attachment_url, attachment_name, attachment_size, is_read, created_at
		 FROM (
		   SELECT * FROM messages
		   WHERE conversation_id = $1
		   ORDER BY created_at DESC, id DESC
		   LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		var attURL, attName *string
		var attSize *int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
			&attURL, &attName, &attSize, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.History scan: %w", err)
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
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.History rows: %w", err)
	}
	return messages, nil
}

// MarkRead flips is_read for ids not sent by readerID and returns the ids
// actually changed. Re-applying the same receipt returns nothing, so
// duplicate deliveries cannot double-broadcast.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID string, ids []string) ([]string, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE messages SET is_read = true
		 WHERE conversation_id = $1 AND sender_id != $2 AND is_read = false AND id = ANY($3)
		 RETURNING id`,
		conversationID, readerID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	defer rows.Close()

	affected := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.MarkRead scan: %w", err)
		}
		affected = append(affected, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.MarkRead rows: %w", err)
	}
	return affected, nil
}

// UnreadCount is the authoritative count: messages from others still unread.
func (r *MessageRepository) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	defer logger.DeferLogDuration("msg.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1 AND sender_id != $2 AND is_read = false`,
		conversationID, viewerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadCount: %w", err)
	}
	return count, nil
}

// UnreadCounts returns authoritative counts for every conversation the viewer
// belongs to, including zero-count ones so that a pull can replace local
// state without leaving stale positive badges behind.
func (r *MessageRepository) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	defer logger.DeferLogDuration("msg.UnreadCounts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id,
		        COUNT(m.id) FILTER (WHERE m.sender_id != $1 AND m.is_read = false) AS unread
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.customer_id = $1 OR c.assigned_agent_id = $1
		 GROUP BY c.id`, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCounts query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.UnreadCounts scan: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCounts rows: %w", err)
	}
	return counts, nil
}
