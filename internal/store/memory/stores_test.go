package memory

import (
	"context"
	"testing"
	"time"

	"github.com/portalchat/internal/model"
)

func TestAssignReturnsPreviousOwner(t *testing.T) {
	conv, _ := New()
	ctx := context.Background()
	now := time.Now()
	if err := conv.Create(ctx, &model.Conversation{ID: "c1", CustomerID: "cust", Status: model.ConversationOpen, CreatedAt: now, LastMessageAt: now}); err != nil {
		t.Fatal(err)
	}

	prev, err := conv.Assign(ctx, "c1", "agent-x")
	if err != nil || prev != nil {
		t.Fatalf("first assign: prev=%v err=%v", prev, err)
	}
	prev, err = conv.Assign(ctx, "c1", "agent-y")
	if err != nil || prev == nil || *prev != "agent-x" {
		t.Fatalf("handoff: prev=%v err=%v", prev, err)
	}
	if _, err := conv.Assign(ctx, "missing", "agent-x"); err != ErrNotFound {
		t.Fatalf("missing conversation: %v", err)
	}
}

func TestRecordMessageReopensClosed(t *testing.T) {
	conv, _ := New()
	ctx := context.Background()
	now := time.Now()
	conv.Create(ctx, &model.Conversation{ID: "c1", CustomerID: "cust", Status: model.ConversationOpen, CreatedAt: now, LastMessageAt: now})
	conv.SetStatus(ctx, "c1", model.ConversationClosed)

	later := now.Add(time.Hour)
	if err := conv.RecordMessage(ctx, "c1", later); err != nil {
		t.Fatal(err)
	}
	got, err := conv.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ConversationOpen || !got.LastMessageAt.Equal(later) {
		t.Fatalf("after record: %+v", got)
	}
}

func TestMarkReadSkipsOwnAndAlreadyRead(t *testing.T) {
	conv, msgs := New()
	ctx := context.Background()
	now := time.Now()
	conv.Create(ctx, &model.Conversation{ID: "c1", CustomerID: "cust", Status: model.ConversationOpen, CreatedAt: now, LastMessageAt: now})
	msgs.Create(ctx, &model.Message{ID: "mine", ConversationID: "c1", SenderID: "reader", CreatedAt: now})
	msgs.Create(ctx, &model.Message{ID: "theirs", ConversationID: "c1", SenderID: "cust", CreatedAt: now})

	affected, err := msgs.MarkRead(ctx, "c1", "reader", []string{"mine", "theirs", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != 1 || affected[0] != "theirs" {
		t.Fatalf("affected = %v, want [theirs]", affected)
	}
	// Second pass finds nothing left to mark.
	affected, _ = msgs.MarkRead(ctx, "c1", "reader", []string{"theirs"})
	if len(affected) != 0 {
		t.Fatalf("re-mark affected = %v, want empty", affected)
	}
}

func TestUnreadCountsIncludeZeroConversations(t *testing.T) {
	conv, msgs := New()
	ctx := context.Background()
	now := time.Now()
	agent := "agent-a"
	conv.Create(ctx, &model.Conversation{ID: "busy", CustomerID: "cust", AssignedAgentID: &agent, Status: model.ConversationOpen, CreatedAt: now, LastMessageAt: now})
	conv.Create(ctx, &model.Conversation{ID: "quiet", CustomerID: "cust", AssignedAgentID: &agent, Status: model.ConversationOpen, CreatedAt: now, LastMessageAt: now})
	conv.Create(ctx, &model.Conversation{ID: "other", CustomerID: "someone-else", Status: model.ConversationOpen, CreatedAt: now, LastMessageAt: now})
	msgs.Create(ctx, &model.Message{ID: "m1", ConversationID: "busy", SenderID: "cust", CreatedAt: now})

	counts, err := msgs.UnreadCounts(ctx, agent)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts = %v, want busy and quiet only", counts)
	}
	if counts["busy"] != 1 || counts["quiet"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	conv, msgs := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv.Create(ctx, &model.Conversation{ID: "c1", CustomerID: "cust", Status: model.ConversationOpen, CreatedAt: base, LastMessageAt: base})

	// Insert out of order; History returns chronological ascending and,
	// when limited, the most recent tail.
	msgs.Create(ctx, &model.Message{ID: "m3", ConversationID: "c1", SenderID: "cust", CreatedAt: base.Add(3 * time.Second)})
	msgs.Create(ctx, &model.Message{ID: "m1", ConversationID: "c1", SenderID: "cust", CreatedAt: base.Add(time.Second)})
	msgs.Create(ctx, &model.Message{ID: "m2", ConversationID: "c1", SenderID: "cust", CreatedAt: base.Add(2 * time.Second)})

	got, err := msgs.History(ctx, "c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("history = %v", got)
	}
}
