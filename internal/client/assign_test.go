package client

import (
	"testing"

	"github.com/portalchat/internal/ws"
)

func strPtr(s string) *string { return &s }

func TestCoordinatorNewAgentResyncs(t *testing.T) {
	c := NewCoordinator("agent-y")
	if !c.Apply(ws.AssignedPayload{ConversationID: "c1", NewAgentID: "agent-y", PreviousAgentID: strPtr("agent-x")}) {
		t.Fatal("new owner must resync")
	}
	if got, ok := c.AssignedAgent("c1"); !ok || got != "agent-y" {
		t.Fatalf("AssignedAgent = %q/%v", got, ok)
	}
}

func TestCoordinatorPreviousAgentResyncs(t *testing.T) {
	c := NewCoordinator("agent-x")
	c.Track("c1", strPtr("agent-x"))
	if !c.Apply(ws.AssignedPayload{ConversationID: "c1", NewAgentID: "agent-y", PreviousAgentID: strPtr("agent-x")}) {
		t.Fatal("previous owner must resync")
	}
}

func TestCoordinatorBystanderDoesNot(t *testing.T) {
	c := NewCoordinator("customer-1")
	if c.Apply(ws.AssignedPayload{ConversationID: "c1", NewAgentID: "agent-y", PreviousAgentID: strPtr("agent-x")}) {
		t.Fatal("uninvolved viewer must not resync")
	}
	// Transfer onto an already-assigned conversation is accepted, not
	// arbitrated.
	if got, _ := c.AssignedAgent("c1"); got != "agent-y" {
		t.Fatalf("owner = %q, want agent-y", got)
	}
}

func TestCoordinatorTrackSeedsAndClears(t *testing.T) {
	c := NewCoordinator("agent-x")
	c.Track("c1", strPtr("agent-z"))
	if got, ok := c.AssignedAgent("c1"); !ok || got != "agent-z" {
		t.Fatalf("tracked owner = %q/%v", got, ok)
	}
	c.Track("c1", nil)
	if _, ok := c.AssignedAgent("c1"); ok {
		t.Fatal("nil track did not clear ownership")
	}
}
