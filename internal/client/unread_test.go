package client

import "testing"

func TestReconcilerPullReplacesDeltas(t *testing.T) {
	r := NewReconciler()

	// Push deltas drift first, then an authoritative pull lands. Whatever
	// the deltas estimated, the pull value wins.
	r.ApplyDelta("c1")
	r.ApplyDelta("c1")
	r.ApplyDelta("c2")

	if n, st := r.Count("c1"); n != 2 || st != Drifting {
		t.Fatalf("pre-pull c1 = %d/%s, want 2/drifting", n, st)
	}

	seq := r.BeginPull()
	if !r.ApplyPull(seq, map[string]int{"c1": 5}) {
		t.Fatal("pull was rejected")
	}

	if n, st := r.Count("c1"); n != 5 || st != Authoritative {
		t.Fatalf("c1 = %d/%s, want 5/authoritative", n, st)
	}
	// c2 was not in the snapshot: the viewer no longer owns it, so the
	// badge must not survive the replace.
	if n, _ := r.Count("c2"); n != 0 {
		t.Fatalf("c2 = %d, want 0 after replace", n)
	}
}

func TestReconcilerStalePullLosesToNewer(t *testing.T) {
	r := NewReconciler()

	seqOld := r.BeginPull()
	seqNew := r.BeginPull()

	if !r.ApplyPull(seqNew, map[string]int{"c1": 7}) {
		t.Fatal("newer pull rejected")
	}
	// The older in-flight response arrives late and must be discarded.
	if r.ApplyPull(seqOld, map[string]int{"c1": 3}) {
		t.Fatal("stale pull was applied")
	}
	if n, _ := r.Count("c1"); n != 7 {
		t.Fatalf("c1 = %d, want 7", n)
	}
}

func TestReconcilerDeltaInterleavings(t *testing.T) {
	// Whatever order deltas and the final pull interleave in, the counter
	// equals the authoritative value once the last pull applies.
	orders := [][]string{
		{"d", "d", "pull"},
		{"d", "pull", "d"},
		{"pull", "d", "d"},
	}
	for _, order := range orders {
		r := NewReconciler()
		seq := r.BeginPull()
		pulled := false
		for _, op := range order {
			if op == "pull" {
				r.ApplyPull(seq, map[string]int{"c1": 4})
				pulled = true
			} else {
				r.ApplyDelta("c1")
			}
		}
		// Deltas after the pull drift again; re-pull settles it.
		if !pulled {
			t.Fatal("order missing pull")
		}
		seq2 := r.BeginPull()
		r.ApplyPull(seq2, map[string]int{"c1": 4})
		if n, st := r.Count("c1"); n != 4 || st != Authoritative {
			t.Fatalf("order %v: c1 = %d/%s, want 4/authoritative", order, n, st)
		}
	}
}

func TestReconcilerApplyReadIdempotent(t *testing.T) {
	r := NewReconciler()
	r.ApplyDelta("c1")
	r.ApplyDelta("c1")

	r.ApplyRead("c1")
	if n, _ := r.Count("c1"); n != 0 {
		t.Fatalf("after read: %d, want 0", n)
	}
	r.ApplyRead("c1")
	if n, _ := r.Count("c1"); n != 0 {
		t.Fatalf("after second read: %d, want 0", n)
	}
}

func TestReconcilerStaleFreezesUntilPull(t *testing.T) {
	r := NewReconciler()
	seq := r.BeginPull()
	r.ApplyPull(seq, map[string]int{"c1": 9})

	// Assignment handoff: the old value must never be displayed again.
	r.MarkStale("c1")
	if _, st := r.Count("c1"); st != Stale {
		t.Fatalf("state = %s, want stale", st)
	}

	// No push may resurrect a stale counter.
	r.ApplyDelta("c1")
	r.ApplyEstimate("c1", 42)
	r.ApplyRead("c1")
	if n, st := r.Count("c1"); st != Stale || n != 9 {
		t.Fatalf("stale counter mutated: %d/%s", n, st)
	}
	// Stale counters are excluded from the portal badge.
	if got := r.Total(); got != 0 {
		t.Fatalf("Total = %d, want 0 with only a stale counter", got)
	}

	seq = r.BeginPull()
	r.ApplyPull(seq, map[string]int{"c1": 1})
	if n, st := r.Count("c1"); n != 1 || st != Authoritative {
		t.Fatalf("post-pull = %d/%s, want 1/authoritative", n, st)
	}
}

func TestReconcilerPullFailureKeepsSnapshot(t *testing.T) {
	r := NewReconciler()
	seq := r.BeginPull()
	r.ApplyPull(seq, map[string]int{"c1": 3})

	r.BeginPull()
	r.PullFailed()

	if !r.Degraded() {
		t.Fatal("not degraded after pull failure")
	}
	// A timed-out pull never clears a counter.
	if n, _ := r.Count("c1"); n != 3 {
		t.Fatalf("c1 = %d, want 3 retained", n)
	}

	seq = r.BeginPull()
	r.ApplyPull(seq, map[string]int{"c1": 3})
	if r.Degraded() {
		t.Fatal("still degraded after successful pull")
	}
}

func TestReconcilerEstimateAndTotal(t *testing.T) {
	r := NewReconciler()
	r.ApplyEstimate("c1", 2)
	r.ApplyEstimate("c2", 3)
	if got := r.Total(); got != 5 {
		t.Fatalf("Total = %d, want 5", got)
	}
	counts := r.Counts()
	if counts["c1"] != 2 || counts["c2"] != 3 {
		t.Fatalf("Counts = %v", counts)
	}
}
