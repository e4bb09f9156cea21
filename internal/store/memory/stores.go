// Package memory backs the hub and the pull endpoints without Postgres.
// It exists for tests and local experiments; production uses the pgx
// repositories in internal/repository.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/portalchat/internal/model"
)

var ErrNotFound = errors.New("not found")

// db is the shared in-process state behind both store facades.
type db struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message // conversationID -> unordered
	byID          map[string]*model.Message
}

// ConversationStore and MessageStore mirror the method sets of the pgx
// repositories so they are drop-in replacements behind the same interfaces.
type ConversationStore struct{ db *db }
type MessageStore struct{ db *db }

// New returns both facades over one shared state.
func New() (*ConversationStore, *MessageStore) {
	d := &db{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]*model.Message),
		byID:          make(map[string]*model.Message),
	}
	return &ConversationStore{db: d}, &MessageStore{db: d}
}

func (s *ConversationStore) Create(ctx context.Context, c *model.Conversation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *c
	s.db.conversations[c.ID] = &cp
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *ConversationStore) RecordMessage(ctx context.Context, id string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = at
	c.Status = model.ConversationOpen
	return nil
}

func (s *ConversationStore) Assign(ctx context.Context, id, agentID string) (*string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	previous := c.AssignedAgentID
	a := agentID
	c.AssignedAgentID = &a
	return previous, nil
}

func (s *ConversationStore) SetStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

func (s *ConversationStore) IsViewer(ctx context.Context, id, viewerID string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.conversations[id]
	if !ok {
		return false, nil
	}
	return isViewer(c, viewerID), nil
}

func (s *ConversationStore) ListForViewer(ctx context.Context, viewerID string) ([]model.ConversationSummary, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]model.ConversationSummary, 0, 8)
	for _, c := range s.db.conversations {
		if !isViewer(c, viewerID) {
			continue
		}
		cp := *c
		sum := model.ConversationSummary{Conversation: cp}
		for _, m := range s.db.messages[c.ID] {
			if m.SenderID != viewerID && !m.IsRead {
				sum.UnreadCount++
			}
			if sum.LastMessage == nil || sum.LastMessage.Before(m) {
				mc := *m
				sum.LastMessage = &mc
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Conversation.LastMessageAt.After(out[j].Conversation.LastMessageAt)
	})
	return out, nil
}

func isViewer(c *model.Conversation, viewerID string) bool {
	return c.CustomerID == viewerID || (c.AssignedAgentID != nil && *c.AssignedAgentID == viewerID)
}

func (s *MessageStore) Create(ctx context.Context, m *model.Message) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, dup := s.db.byID[m.ID]; dup {
		return nil
	}
	cp := *m
	s.db.byID[m.ID] = &cp
	s.db.messages[m.ConversationID] = append(s.db.messages[m.ConversationID], &cp)
	return nil
}

func (s *MessageStore) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	msgs := s.db.messages[conversationID]
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, readerID string, ids []string) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	affected := make([]string, 0, len(ids))
	for _, id := range ids {
		m, ok := s.db.byID[id]
		if !ok || m.ConversationID != conversationID || m.SenderID == readerID || m.IsRead {
			continue
		}
		m.IsRead = true
		affected = append(affected, id)
	}
	return affected, nil
}

func (s *MessageStore) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	n := 0
	for _, m := range s.db.messages[conversationID] {
		if m.SenderID != viewerID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	counts := make(map[string]int, len(s.db.conversations))
	for id, c := range s.db.conversations {
		if !isViewer(c, viewerID) {
			continue
		}
		counts[id] = 0
		for _, m := range s.db.messages[id] {
			if m.SenderID != viewerID && !m.IsRead {
				counts[id]++
			}
		}
	}
	return counts, nil
}
