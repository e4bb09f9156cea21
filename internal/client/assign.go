package client

import (
	"sync"

	"github.com/portalchat/internal/ws"
)

// Coordinator tracks which agent owns each conversation on the viewer side
// and decides when an assignment handoff forces a resync.
type Coordinator struct {
	mu       sync.Mutex
	viewerID string
	assigned map[string]string // conversationID -> agentID
}

func NewCoordinator(viewerID string) *Coordinator {
	return &Coordinator{
		viewerID: viewerID,
		assigned: make(map[string]string),
	}
}

// Apply records a handoff and reports whether the local viewer must force a
// pull-based resync for the conversation. Both sides of the handoff resync:
// the previous agent's last-known counters stop being meaningful the moment
// ownership moves, and the new agent has never fetched this history at all.
// Last writer wins; the client never arbitrates competing assignments.
func (c *Coordinator) Apply(p ws.AssignedPayload) (needsResync bool) {
	c.mu.Lock()
	c.assigned[p.ConversationID] = p.NewAgentID
	c.mu.Unlock()

	if p.NewAgentID == c.viewerID {
		return true
	}
	if p.PreviousAgentID != nil && *p.PreviousAgentID == c.viewerID {
		return true
	}
	return false
}

// AssignedAgent returns the last known owner of a conversation.
func (c *Coordinator) AssignedAgent(conversationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.assigned[conversationID]
	return id, ok
}

// Track seeds ownership from a pulled conversation snapshot.
func (c *Coordinator) Track(conversationID string, agentID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agentID == nil {
		delete(c.assigned, conversationID)
		return
	}
	c.assigned[conversationID] = *agentID
}

// Drop forgets a conversation (terminal fault).
func (c *Coordinator) Drop(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.assigned, conversationID)
}
