package client

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a remote typing signal stays visible without
// a refresh. Protects against a peer closing their client without a clean
// typing_stop.
const DefaultTypingTTL = 3 * time.Second

type typingEntry struct {
	username string
	timer    *time.Timer
}

// Tracker holds the per-conversation set of currently typing participants,
// deduplicated by user id, with timeout-based expiry.
type Tracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	byConv map[string]map[string]*typingEntry
	// onChange fires after every visible-set change, including expiry.
	onChange func(conversationID string)
	stopped  bool
}

func NewTracker(ttl time.Duration, onChange func(conversationID string)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		ttl:      ttl,
		byConv:   make(map[string]map[string]*typingEntry),
		onChange: onChange,
	}
}

// Add registers (or refreshes) a typing participant and re-arms its expiry.
func (t *Tracker) Add(conversationID, userID, username string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	users, ok := t.byConv[conversationID]
	if !ok {
		users = make(map[string]*typingEntry)
		t.byConv[conversationID] = users
	}
	if e, exists := users[userID]; exists {
		e.timer.Reset(t.ttl)
		if username != "" {
			e.username = username
		}
		t.mu.Unlock()
		return
	}
	e := &typingEntry{username: username}
	e.timer = time.AfterFunc(t.ttl, func() {
		t.expire(conversationID, userID)
	})
	users[userID] = e
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(conversationID)
	}
}

// Remove drops a participant on an explicit stop signal.
func (t *Tracker) Remove(conversationID, userID string) {
	t.mu.Lock()
	users := t.byConv[conversationID]
	e, ok := users[userID]
	if ok {
		e.timer.Stop()
		delete(users, userID)
		if len(users) == 0 {
			delete(t.byConv, conversationID)
		}
	}
	t.mu.Unlock()

	if ok && t.onChange != nil {
		t.onChange(conversationID)
	}
}

func (t *Tracker) expire(conversationID, userID string) {
	t.mu.Lock()
	users := t.byConv[conversationID]
	_, ok := users[userID]
	if ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.byConv, conversationID)
		}
	}
	t.mu.Unlock()

	if ok && t.onChange != nil {
		t.onChange(conversationID)
	}
}

// Typing returns the usernames currently typing, sorted for stable display.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.byConv[conversationID]
	out := make([]string, 0, len(users))
	for _, e := range users {
		out = append(out, e.username)
	}
	sort.Strings(out)
	return out
}

// Anyone is the "is anyone typing" projection: non-empty set means true.
func (t *Tracker) Anyone(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byConv[conversationID]) > 0
}

// Stop cancels all pending expiry timers. The tracker is unusable after.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, users := range t.byConv {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	t.byConv = make(map[string]map[string]*typingEntry)
}
