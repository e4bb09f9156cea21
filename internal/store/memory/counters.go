package memory

import (
	"context"
	"strings"
	"sync"
)

// Counters is the in-memory counter cache used when Redis is not configured
// and in tests.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int // "conversationID\x00viewerID" -> count
}

func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int)}
}

func (c *Counters) Close() error { return nil }

func key(conversationID, viewerID string) string {
	return conversationID + "\x00" + viewerID
}

func (c *Counters) Incr(ctx context.Context, conversationID, viewerID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(conversationID, viewerID)
	n, ok := c.counts[k]
	if !ok {
		return 0, false, nil
	}
	n++
	c.counts[k] = n
	return n, true, nil
}

func (c *Counters) Set(ctx context.Context, conversationID, viewerID string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key(conversationID, viewerID)] = n
	return nil
}

func (c *Counters) Reset(ctx context.Context, conversationID, viewerID string) error {
	return c.Set(ctx, conversationID, viewerID, 0)
}

func (c *Counters) Invalidate(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := conversationID + "\x00"
	for k := range c.counts {
		if strings.HasPrefix(k, prefix) {
			delete(c.counts, k)
		}
	}
	return nil
}
