package client

import "sync"

// CounterState describes how trustworthy a conversation's unread counter is.
type CounterState int

const (
	// Authoritative: the value was just replaced by a pull.
	Authoritative CounterState = iota
	// Drifting: one or more push deltas were applied since the last pull.
	// The value is an estimate that the next pull will correct.
	Drifting
	// Stale: the value can no longer be trusted at all (assignment handoff,
	// repeated pull failure). Callers render "stale" instead of a number.
	Stale
)

func (s CounterState) String() string {
	switch s {
	case Authoritative:
		return "authoritative"
	case Drifting:
		return "drifting"
	default:
		return "stale"
	}
}

type counter struct {
	value int
	state CounterState
}

// Reconciler holds per-conversation unread counters for one viewer.
// Pulls always replace the whole map; pushes always patch individual
// entries. Replace-after-patch is safe by construction: a pull snapshot
// already accounts for every message the patches estimated.
type Reconciler struct {
	mu       sync.Mutex
	counters map[string]counter
	// issued / applied implement last-write-wins by pull sequence: an
	// in-flight pull that loses the race is discarded, never cancelled.
	issued   uint64
	applied  uint64
	degraded bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{counters: make(map[string]counter)}
}

// BeginPull allocates a pull sequence number. The caller performs the pull
// and hands the number back to ApplyPull.
func (r *Reconciler) BeginPull() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	return r.issued
}

// ApplyPull replaces local state with an authoritative snapshot. Replacement
// (not merge) guarantees conversations the viewer no longer owns do not keep
// a stale positive badge. A snapshot older than one already applied is
// dropped: ordering is by pull sequence, not wall-clock arrival.
func (r *Reconciler) ApplyPull(seq uint64, counts map[string]int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.applied {
		return false
	}
	r.applied = seq
	r.degraded = false
	fresh := make(map[string]counter, len(counts))
	for id, n := range counts {
		fresh[id] = counter{value: n, state: Authoritative}
	}
	r.counters = fresh
	return true
}

// PullFailed records that a pull did not complete. The previous snapshot is
// retained; a counter is never cleared just because a pull timed out.
func (r *Reconciler) PullFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = true
}

// Degraded reports whether the last pull attempt failed and counters should
// be rendered as possibly out of date.
func (r *Reconciler) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// ApplyDelta optimistically bumps a conversation's counter by one. Only
// called for messages not sent by the viewer.
func (r *Reconciler) ApplyDelta(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters[conversationID]
	if c.state == Stale {
		// A stale counter stays stale until a pull replaces it.
		return
	}
	c.value++
	c.state = Drifting
	r.counters[conversationID] = c
}

// ApplyEstimate patches a counter with a server-pushed estimate
// (unread_count event). Still not authoritative.
func (r *Reconciler) ApplyEstimate(conversationID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters[conversationID]
	if c.state == Stale {
		return
	}
	c.value = n
	c.state = Drifting
	r.counters[conversationID] = c
}

// ApplyRead zeroes a counter after the viewer's own read. Idempotent:
// zeroing an already-zero counter changes nothing.
func (r *Reconciler) ApplyRead(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters[conversationID]
	if c.state == Stale {
		return
	}
	c.value = 0
	c.state = Drifting
	r.counters[conversationID] = c
}

// MarkStale flags one conversation's counter as meaningless until the next
// pull. Used on assignment handoff: the old value must never be displayed,
// even before the forced pull completes.
func (r *Reconciler) MarkStale(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters[conversationID]
	c.state = Stale
	r.counters[conversationID] = c
}

// Drop removes a conversation's counter entirely (terminal fault).
func (r *Reconciler) Drop(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, conversationID)
}

// Count returns the counter value and its trust state.
func (r *Reconciler) Count(conversationID string) (int, CounterState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[conversationID]
	if !ok {
		return 0, Authoritative
	}
	return c.value, c.state
}

// Counts returns a copy of all counter values.
func (r *Reconciler) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counters))
	for id, c := range r.counters {
		out[id] = c.value
	}
	return out
}

// Total sums every non-stale counter (portal navigation badge).
func (r *Reconciler) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.counters {
		if c.state != Stale {
			total += c.value
		}
	}
	return total
}
