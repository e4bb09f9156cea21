// Package client is the viewer-side synchronization subsystem: it keeps
// message history, unread counters, typing presence and agent assignment
// consistent over a push transport with no ordering or delivery guarantees
// across reconnects, reconciling pushes against pull-based rehydration.
//
// A Syncer instance is owned by exactly one viewer. On viewer change the
// portal builds a new Syncer instead of mutating this one.
package client

import (
	"sort"
	"sync"

	"github.com/portalchat/internal/model"
)

// UnreadHint is called with a +1 delta when an appended message counts as
// unread for the local viewer. It is a hint, not an authoritative value.
type UnreadHint func(conversationID string)

// logEntry tags a stored message with the pull sequence that was current
// when it arrived, so an overlapping pull knows whether its snapshot could
// have included it.
type logEntry struct {
	msg   model.Message
	epoch uint64
}

// Log is the per-conversation message history: append-only from the
// consumer's perspective, deduplicated by message id. History pulls are
// sequenced like the reconciler's: the winner is the latest issued pull,
// not the latest to arrive.
type Log struct {
	mu       sync.RWMutex
	viewerID string
	byConv   map[string]map[string]logEntry
	issued   map[string]uint64
	applied  map[string]uint64
	hint     UnreadHint
}

func NewLog(viewerID string, hint UnreadHint) *Log {
	return &Log{
		viewerID: viewerID,
		byConv:   make(map[string]map[string]logEntry),
		issued:   make(map[string]uint64),
		applied:  make(map[string]uint64),
		hint:     hint,
	}
}

// Append stores a message unless its id is already present. Duplicate
// delivery after a reconnect replay must not double-count, so the unread
// hint fires only on first sight.
func (l *Log) Append(m model.Message) bool {
	l.mu.Lock()
	msgs, ok := l.byConv[m.ConversationID]
	if !ok {
		msgs = make(map[string]logEntry)
		l.byConv[m.ConversationID] = msgs
	}
	if _, dup := msgs[m.ID]; dup {
		l.mu.Unlock()
		return false
	}
	msgs[m.ID] = logEntry{msg: m, epoch: l.issued[m.ConversationID]}
	unread := m.SenderID != l.viewerID && !m.IsRead
	hint := l.hint
	l.mu.Unlock()

	if unread && hint != nil {
		hint(m.ConversationID)
	}
	return true
}

// BeginPull issues a sequence number for a history pull. Call it before the
// request goes out: messages pushed while the pull is in flight carry this
// epoch and survive the Replace, since the snapshot predates them.
func (l *Log) BeginPull(conversationID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued[conversationID]++
	return l.issued[conversationID]
}

// Replace swaps a conversation's history for a pulled snapshot. Pulls always
// replace, pushes always patch; between two pulls the one issued later wins
// regardless of arrival order, so a stale snapshot is rejected (ok false).
// Pushed messages newer than the snapshot are kept. The returned slice holds
// messages the snapshot introduced, in display order, so first-sight
// notification works even when the push echo lost the race to the pull.
func (l *Log) Replace(conversationID string, seq uint64, msgs []model.Message) ([]model.Message, bool) {
	l.mu.Lock()
	if seq <= l.applied[conversationID] {
		l.mu.Unlock()
		return nil, false
	}
	l.applied[conversationID] = seq

	old := l.byConv[conversationID]
	next := make(map[string]logEntry, len(msgs))
	for id, e := range old {
		if e.epoch >= seq {
			next[id] = e
		}
	}
	var added []model.Message
	for _, m := range msgs {
		_, known := old[m.ID]
		next[m.ID] = logEntry{msg: m, epoch: l.issued[conversationID]}
		if !known {
			added = append(added, m)
		}
	}
	l.byConv[conversationID] = next
	l.mu.Unlock()

	sort.Slice(added, func(i, j int) bool { return added[i].Before(&added[j]) })
	return added, true
}

// Drop discards a conversation entirely (terminal fault: viewer lost access).
func (l *Log) Drop(conversationID string) {
	l.mu.Lock()
	delete(l.byConv, conversationID)
	delete(l.issued, conversationID)
	delete(l.applied, conversationID)
	l.mu.Unlock()
}

// MarkRead flips IsRead for the given ids. Re-applying is a no-op.
func (l *Log) MarkRead(conversationID string, ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs, ok := l.byConv[conversationID]
	if !ok {
		return
	}
	for _, id := range ids {
		if e, ok := msgs[id]; ok && !e.msg.IsRead {
			e.msg.IsRead = true
			msgs[id] = e
		}
	}
}

// UnreadIDs returns ids of messages the viewer has not read, in display order.
func (l *Log) UnreadIDs(conversationID string) []string {
	ordered := l.Ordered(conversationID)
	ids := make([]string, 0, len(ordered))
	for _, m := range ordered {
		if m.SenderID != l.viewerID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Ordered returns the conversation's messages sorted by (createdAt, id)
// ascending. Arrival order over the transport is not chronological when both
// sides send concurrently, so this sort is what the viewport renders.
func (l *Log) Ordered(conversationID string) []model.Message {
	l.mu.RLock()
	msgs := l.byConv[conversationID]
	out := make([]model.Message, 0, len(msgs))
	for _, e := range msgs {
		out = append(out, e.msg)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

// Len returns the number of stored messages for a conversation.
func (l *Log) Len(conversationID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byConv[conversationID])
}
