package client

import (
	"testing"
	"time"
)

func TestTrackerExpiresWithoutRefresh(t *testing.T) {
	changes := make(chan string, 16)
	tr := NewTracker(50*time.Millisecond, func(conv string) { changes <- conv })
	defer tr.Stop()

	tr.Add("c1", "u1", "Alice")
	if !tr.Anyone("c1") {
		t.Fatal("signal not visible after add")
	}

	deadline := time.After(2 * time.Second)
	for tr.Anyone("c1") {
		select {
		case <-changes:
		case <-deadline:
			t.Fatal("typing signal never expired")
		}
	}
	if got := tr.Typing("c1"); len(got) != 0 {
		t.Fatalf("Typing after expiry = %v, want empty", got)
	}
}

func TestTrackerRefreshExtendsTTL(t *testing.T) {
	tr := NewTracker(80*time.Millisecond, nil)
	defer tr.Stop()

	tr.Add("c1", "u1", "Alice")
	// Keep refreshing past the original TTL; the signal must survive.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		tr.Add("c1", "u1", "Alice")
	}
	if !tr.Anyone("c1") {
		t.Fatal("signal expired despite refreshes")
	}
}

func TestTrackerExplicitStop(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	defer tr.Stop()

	tr.Add("c1", "u1", "Alice")
	tr.Add("c1", "u2", "Bob")
	tr.Remove("c1", "u1")

	got := tr.Typing("c1")
	if len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("Typing = %v, want [Bob]", got)
	}
}

func TestTrackerDeduplicatesByUser(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	defer tr.Stop()

	tr.Add("c1", "u1", "Alice")
	tr.Add("c1", "u1", "Alice")
	tr.Add("c1", "u2", "Bob")

	got := tr.Typing("c1")
	if len(got) != 2 || got[0] != "Alice" || got[1] != "Bob" {
		t.Fatalf("Typing = %v, want [Alice Bob]", got)
	}
}

func TestTrackerIsolatesConversations(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	defer tr.Stop()

	tr.Add("c1", "u1", "Alice")
	if tr.Anyone("c2") {
		t.Fatal("signal leaked across conversations")
	}
}
