package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/portalchat/internal/handler"
	"github.com/portalchat/internal/middleware"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/store/memory"
	"github.com/portalchat/internal/ws"
)

func TestWSURLEscapesIdentity(t *testing.T) {
	// Display names routinely carry spaces; an unescaped query string makes
	// every dial fail at the handshake.
	u := wsURL(Options{
		BaseURL:    "http://localhost:8080",
		ViewerID:   "agent a",
		ViewerName: "Agent A & Co",
	})
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse %q: %v", u, err)
	}
	if parsed.Scheme != "ws" || parsed.Path != "/ws" {
		t.Fatalf("url = %q, want ws scheme and /ws path", u)
	}
	if got := parsed.Query().Get("viewer_id"); got != "agent a" {
		t.Errorf("viewer_id = %q, want %q", got, "agent a")
	}
	if got := parsed.Query().Get("viewer_name"); got != "Agent A & Co" {
		t.Errorf("viewer_name = %q, want %q", got, "Agent A & Co")
	}
	if strings.Contains(parsed.RawQuery, " ") {
		t.Errorf("raw query %q contains an unescaped space", parsed.RawQuery)
	}
}

// testServer assembles the real API surface over the in-memory store so the
// sync subsystem is exercised against the actual hub and handlers, not mocks.
type testServer struct {
	srv       *httptest.Server
	convStore *memory.ConversationStore
	msgStore  *memory.MessageStore
	hub       *ws.Hub
	cancel    context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	convStore, msgStore := memory.New()
	counters := memory.NewCounters()
	hub := ws.NewHub(convStore, msgStore, counters, 100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	convH := handler.NewConversationHandler(convStore, hub)
	msgH := handler.NewMessageHandler(msgStore, convStore, counters, 500)
	wsH := handler.NewWSHandler(hub, "*")

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.ViewerIdentity)
		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations", convH.Create)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Get("/api/conversations/{id}/messages", msgH.History)
		r.Post("/api/conversations/{id}/assign", convH.Assign)
		r.Get("/api/unread", msgH.UnreadCounts)
		r.Get("/ws", wsH.ServeWS)
	})

	ts := &testServer{
		srv:       httptest.NewServer(r),
		convStore: convStore,
		msgStore:  msgStore,
		hub:       hub,
		cancel:    cancel,
	}
	t.Cleanup(func() {
		ts.srv.Close()
		ts.cancel()
	})
	return ts
}

func (ts *testServer) createConversation(t *testing.T, customerID string, agentID *string) string {
	t.Helper()
	id := uuid.New().String()
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:              id,
		CustomerID:      customerID,
		AssignedAgentID: agentID,
		Status:          model.ConversationOpen,
		LastMessageAt:   now,
		CreatedAt:       now,
	}
	if err := ts.convStore.Create(context.Background(), conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return id
}

func (ts *testServer) seedMessage(t *testing.T, convID, senderID, content string, at time.Time) string {
	t.Helper()
	id := uuid.New().String()
	err := ts.msgStore.Create(context.Background(), &model.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return id
}

func (ts *testServer) assign(t *testing.T, convID, agentID, asViewer string) {
	t.Helper()
	body := strings.NewReader(`{"agent_id":"` + agentID + `"}`)
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/conversations/"+convID+"/assign", body)
	if err != nil {
		t.Fatalf("assign request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Viewer-Id", asViewer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign status = %d", resp.StatusCode)
	}
}

type unreadEvent struct {
	conv  string
	count int
	state CounterState
}

// testViewer is a connected Syncer with its observed events funneled into
// buffered channels.
type testViewer struct {
	s        *Syncer
	messages chan model.Message
	reads    chan ws.MessageReadPayload
	unread   chan unreadEvent
	assigned chan ws.AssignedPayload
	dropped  chan string
	states   chan State
}

func startViewer(t *testing.T, ts *testServer, viewerID, name string) *testViewer {
	t.Helper()
	v := &testViewer{
		messages: make(chan model.Message, 64),
		reads:    make(chan ws.MessageReadPayload, 64),
		unread:   make(chan unreadEvent, 256),
		assigned: make(chan ws.AssignedPayload, 64),
		dropped:  make(chan string, 16),
		states:   make(chan State, 16),
	}
	v.s = NewSyncer(Options{
		BaseURL:        ts.srv.URL,
		ViewerID:       viewerID,
		ViewerName:     name,
		PullRetryDelay: 50 * time.Millisecond,
	}, Callbacks{
		OnMessage: func(_ string, m model.Message) { v.messages <- m },
		OnRead:    func(p ws.MessageReadPayload) { v.reads <- p },
		OnUnread: func(conv string, n int, st CounterState) {
			v.unread <- unreadEvent{conv: conv, count: n, state: st}
		},
		OnAssigned:            func(p ws.AssignedPayload) { v.assigned <- p },
		OnConversationDropped: func(conv string, _ error) { v.dropped <- conv },
		OnState:               func(st State) { v.states <- st },
	})
	v.s.Start(context.Background())
	t.Cleanup(v.s.Close)

	eventually(t, 5*time.Second, func() bool { return v.s.State() == StateConnected },
		"viewer "+viewerID+" never connected")
	return v
}

func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitUnread(t *testing.T, v *testViewer, convID string) unreadEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-v.unread:
			if ev.conv == convID {
				return ev
			}
		case <-deadline:
			t.Fatalf("no unread event for %s", convID)
		}
	}
}

func waitMessage(t *testing.T, v *testViewer, content string) model.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-v.messages:
			if m.Content == content {
				return m
			}
		case <-deadline:
			t.Fatalf("message %q never arrived", content)
		}
	}
}

func TestSendReceiveReadCycle(t *testing.T) {
	ts := newTestServer(t)
	agent := "agent-a"
	convID := ts.createConversation(t, "cust-b", &agent)

	a := startViewer(t, ts, "agent-a", "Agent A")
	b := startViewer(t, ts, "cust-b", "Customer B")

	// Let B's initial resync land first: a pull snapshot taken before the
	// send would otherwise legitimately overwrite the delta below.
	waitUnread(t, b, convID)

	a.s.Join(convID)
	a.s.Send(convID, "Hello", nil)

	// B is not viewing the conversation but is its customer: the message
	// and an unread delta both arrive.
	m1 := waitMessage(t, b, "Hello")
	if m1.SenderID != "agent-a" || m1.ConversationID != convID {
		t.Fatalf("message = %+v", m1)
	}
	eventually(t, 5*time.Second, func() bool {
		n, st := b.s.Unread(convID)
		return n == 1 && st != Stale
	}, "B's unread counter never reached 1")

	// Sender's echo must not count as unread for A.
	waitMessage(t, a, "Hello")
	if n, _ := a.s.Unread(convID); n != 0 {
		t.Fatalf("sender unread = %d, want 0", n)
	}

	// B opens the conversation and reads it.
	b.s.Join(convID)
	b.s.MarkRead(convID)

	// A gets the read receipt; both counters settle at zero.
	select {
	case p := <-a.reads:
		if p.ReaderID != "cust-b" || p.ConversationID != convID {
			t.Fatalf("read receipt = %+v", p)
		}
		if len(p.MessageIDs) != 1 || p.MessageIDs[0] != m1.ID {
			t.Fatalf("read ids = %v, want [%s]", p.MessageIDs, m1.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("A never received the read receipt")
	}
	eventually(t, 5*time.Second, func() bool {
		na, _ := a.s.Unread(convID)
		nb, _ := b.s.Unread(convID)
		return na == 0 && nb == 0
	}, "counters did not settle at 0")

	// Marking again is a no-op, not a second receipt.
	b.s.MarkRead(convID)
	select {
	case p := <-a.reads:
		t.Fatalf("unexpected second receipt: %+v", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAssignmentHandoff(t *testing.T) {
	ts := newTestServer(t)
	agentX := "agent-x"
	convID := ts.createConversation(t, "cust-1", &agentX)
	at := time.Now().UTC().Add(-time.Minute)
	ts.seedMessage(t, convID, "cust-1", "help please", at)
	ts.seedMessage(t, convID, "cust-1", "anyone there?", at.Add(time.Second))

	x := startViewer(t, ts, "agent-x", "Agent X")
	y := startViewer(t, ts, "agent-y", "Agent Y")

	// X's initial resync pulls the authoritative backlog.
	eventually(t, 5*time.Second, func() bool {
		n, st := x.s.Unread(convID)
		return n == 2 && st == Authoritative
	}, "X never saw the backlog count")

	ts.assign(t, convID, "agent-y", "cust-1")

	// Both sides of the handoff observe the assignment.
	for _, v := range []*testViewer{x, y} {
		select {
		case p := <-v.assigned:
			if p.ConversationID != convID || p.NewAgentID != "agent-y" {
				t.Fatalf("assigned payload = %+v", p)
			}
			if p.PreviousAgentID == nil || *p.PreviousAgentID != "agent-x" {
				t.Fatalf("previous agent = %v", p.PreviousAgentID)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("assignment event never arrived")
		}
	}

	// X's counter goes stale immediately, before any pull completes, and
	// the forced resync then clears it: X lost access, so the snapshot no
	// longer contains the conversation.
	sawStale := false
	eventually(t, 5*time.Second, func() bool {
		for {
			select {
			case ev := <-x.unread:
				if ev.conv == convID && ev.state == Stale {
					sawStale = true
				}
			default:
				n, st := x.s.Unread(convID)
				return sawStale && n == 0 && st != Stale
			}
		}
	}, "X's counter never went stale-then-cleared")

	// Y's forced pull lands the full history and the authoritative count.
	eventually(t, 5*time.Second, func() bool {
		n, st := y.s.Unread(convID)
		return n == 2 && st == Authoritative
	}, "Y never got the authoritative count")
	eventually(t, 5*time.Second, func() bool {
		return len(y.s.Messages(convID)) == 2
	}, "Y never pulled the history")

	// X must never again render a positive number for this conversation.
	if n, st := x.s.Unread(convID); st != Stale && n != 0 {
		t.Fatalf("X shows residual badge: %d/%s", n, st)
	}
}

func TestTerminalFaultDropsConversation(t *testing.T) {
	ts := newTestServer(t)
	convID := ts.createConversation(t, "cust-1", nil)

	// The viewer is not a participant: the history pull on join is
	// rejected with 403 and all local state is discarded.
	v := startViewer(t, ts, "outsider", "Outsider")
	v.s.Join(convID)

	select {
	case dropped := <-v.dropped:
		if dropped != convID {
			t.Fatalf("dropped %s, want %s", dropped, convID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminal fault never surfaced")
	}
	if got := v.s.Messages(convID); len(got) != 0 {
		t.Fatalf("messages retained after drop: %v", got)
	}
}

func TestReconnectResyncs(t *testing.T) {
	ts := newTestServer(t)
	agent := "agent-a"
	convID := ts.createConversation(t, "cust-1", &agent)

	a := startViewer(t, ts, "agent-a", "Agent A")
	a.s.Join(convID)
	eventually(t, 5*time.Second, func() bool { return a.s.session.Joined(convID) },
		"join not recorded")

	// A message lands while A's connection is being torn down server-side.
	ts.seedMessage(t, convID, "cust-1", "missed while away", time.Now().UTC())
	ts.hub.Disconnect("agent-a")

	// The session must reconnect, re-join and pull the missed message.
	eventually(t, 15*time.Second, func() bool {
		for _, m := range a.s.Messages(convID) {
			if m.Content == "missed while away" {
				return true
			}
		}
		return false
	}, "missed message never resynced")
}
