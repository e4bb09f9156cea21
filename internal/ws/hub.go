package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
)

// Hub routes conversation events between connected viewers and the durable
// store. Channel membership is per connection and does not survive a
// reconnect: clients re-issue join_conversation after every (re)connect.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Conn]struct{} // userID -> conns
	joined   map[string]map[*Conn]struct{} // conversationID -> conns
	rooms    map[*Conn]map[string]struct{} // conn -> joined conversationIDs
	total    int
	maxConns int

	convStore  ConversationStore
	msgStore   MessageStore
	counters   CounterCache
	pushClient PushNotifier

	register   chan *Conn
	unregister chan *Conn
	done       chan struct{}
}

func NewHub(convStore ConversationStore, msgStore MessageStore, counters CounterCache, maxConns int, pushClient PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Conn]struct{}),
		joined:     make(map[string]map[*Conn]struct{}),
		rooms:      make(map[*Conn]map[string]struct{}),
		maxConns:   maxConns,
		convStore:  convStore,
		msgStore:   msgStore,
		counters:   counters,
		pushClient: pushClient,
		register:   make(chan *Conn, 64),
		unregister: make(chan *Conn, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addConn(c)
		case c := <-h.unregister:
			h.removeConn(c)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all conns under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Conn, 0, h.total)
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Conn]struct{})
	h.joined = make(map[string]map[*Conn]struct{})
	h.rooms = make(map[*Conn]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addConn(c *Conn) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Conn]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.rooms[c] = make(map[string]struct{})
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeConn(c *Conn) {
	h.mu.Lock()
	conns, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := conns[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	h.total--
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	for convID := range h.rooms[c] {
		delete(h.joined[convID], c)
		if len(h.joined[convID]) == 0 {
			delete(h.joined, convID)
		}
	}
	delete(h.rooms, c)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleEvent dispatches one inbound event. Called from the connection's
// read pump; one event is fully handled before the next is read.
func (h *Hub) HandleEvent(ctx context.Context, c *Conn, ev Inbound) {
	switch ev.Type {
	case EventJoinConversation:
		h.handleJoin(ctx, c, ev)
	case EventLeaveConversation:
		h.handleLeave(c, ev)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case EventMessageRead:
		h.handleMessageRead(ctx, c, ev)
	case EventTypingStart:
		h.handleTyping(c, ev, EventUserTyping)
	case EventTypingStop:
		h.handleTyping(c, ev, EventUserStoppedTyping)
	default:
		h.sendToConn(c, Outbound{Type: EventError, Payload: ErrorPayload{Message: "unknown event type"}})
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Conn, ev Inbound) {
	if ev.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := h.convStore.Get(ctx, ev.ConversationID); err != nil {
		h.sendToConn(c, Outbound{Type: EventError, Payload: ErrorPayload{Message: "conversation not found"}})
		return
	}

	h.mu.Lock()
	if _, ok := h.joined[ev.ConversationID]; !ok {
		h.joined[ev.ConversationID] = make(map[*Conn]struct{})
	}
	h.joined[ev.ConversationID][c] = struct{}{}
	if h.rooms[c] != nil {
		h.rooms[c][ev.ConversationID] = struct{}{}
	}
	h.mu.Unlock()
}

func (h *Hub) handleLeave(c *Conn, ev Inbound) {
	if ev.ConversationID == "" {
		return
	}
	h.mu.Lock()
	delete(h.joined[ev.ConversationID], c)
	if len(h.joined[ev.ConversationID]) == 0 {
		delete(h.joined, ev.ConversationID)
	}
	if h.rooms[c] != nil {
		delete(h.rooms[c], ev.ConversationID)
	}
	h.mu.Unlock()
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Conn, ev Inbound) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if ev.ConversationID == "" || (ev.Content == "" && ev.Attachment == nil) {
		h.sendToConn(c, Outbound{Type: EventError, Payload: ErrorPayload{Message: "conversation_id and content required"}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conv, err := h.convStore.Get(ctx, ev.ConversationID)
	if err != nil {
		h.sendToConn(c, Outbound{Type: EventError, Payload: ErrorPayload{Message: "conversation not found"}})
		return
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: ev.ConversationID,
		SenderID:       c.userID,
		Content:        ev.Content,
		Attachment:     ev.Attachment,
		CreatedAt:      now,
	}
	if err := h.msgStore.Create(ctx, m); err != nil {
		logger.Errorf("ws save message conversation=%s user=%s: %v", ev.ConversationID, c.userID, err)
		h.sendToConn(c, Outbound{Type: EventError, Payload: ErrorPayload{Message: "failed to save message"}})
		return
	}
	// A new inbound message reopens a closed conversation.
	if err := h.convStore.RecordMessage(ctx, ev.ConversationID, now); err != nil {
		logger.Errorf("ws record message conversation=%s: %v", ev.ConversationID, err)
	}

	recipients := h.recipients(conv)
	out := Outbound{Type: EventNewMessage, Payload: m}
	for uid := range recipients {
		h.sendToUser(uid, out)
	}

	// Best-effort unread deltas for everyone but the sender. The counter
	// cache keeps fan-out off Postgres; a miss recomputes the real count.
	for uid := range recipients {
		if uid == c.userID {
			continue
		}
		n, hit, err := h.counters.Incr(ctx, ev.ConversationID, uid)
		if err != nil || !hit {
			n, err = h.msgStore.UnreadCount(ctx, ev.ConversationID, uid)
			if err != nil {
				logger.Errorf("ws unread count conversation=%s user=%s: %v", ev.ConversationID, uid, err)
				continue
			}
			if err := h.counters.Set(ctx, ev.ConversationID, uid, n); err != nil {
				logger.Errorf("ws counter set conversation=%s user=%s: %v", ev.ConversationID, uid, err)
			}
		}
		h.sendToUser(uid, Outbound{Type: EventUnreadCount, Payload: UnreadCountPayload{
			ConversationID: ev.ConversationID,
			Count:          n,
		}})
	}

	h.notifyOffline(conv, c, m, recipients)
}

// notifyOffline sends push notifications to recipients with no live connection.
func (h *Hub) notifyOffline(conv *model.Conversation, c *Conn, m *model.Message, recipients map[string]struct{}) {
	if h.pushClient == nil {
		return
	}
	body := m.Content
	if body == "" && m.Attachment != nil {
		body = m.Attachment.Name
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"conversation_id": conv.ID, "message_id": m.ID}
	for uid := range recipients {
		if uid == c.userID || h.isOnline(uid) {
			continue
		}
		uid := uid
		go h.pushClient.Notify(context.Background(), uid, c.username, body, data)
	}
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Conn, ev Inbound) {
	defer logger.DeferLogDuration("ws.handleMessageRead", time.Now())()
	if ev.ConversationID == "" || len(ev.MessageIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conv, err := h.convStore.Get(ctx, ev.ConversationID)
	if err != nil {
		return
	}
	affected, err := h.msgStore.MarkRead(ctx, ev.ConversationID, c.userID, ev.MessageIDs)
	if err != nil {
		logger.Errorf("ws mark read conversation=%s user=%s: %v", ev.ConversationID, c.userID, err)
		return
	}

	if err := h.counters.Reset(ctx, ev.ConversationID, c.userID); err != nil {
		logger.Errorf("ws counter reset conversation=%s user=%s: %v", ev.ConversationID, c.userID, err)
	}
	// Confirm the zeroed counter to the reader (covers other devices too).
	h.sendToUser(c.userID, Outbound{Type: EventUnreadCount, Payload: UnreadCountPayload{
		ConversationID: ev.ConversationID,
		Count:          0,
	}})

	if len(affected) == 0 {
		return
	}
	out := Outbound{Type: EventMessageRead, Payload: MessageReadPayload{
		ConversationID: ev.ConversationID,
		ReaderID:       c.userID,
		MessageIDs:     affected,
	}}
	for uid := range h.recipients(conv) {
		if uid != c.userID {
			h.sendToUser(uid, out)
		}
	}
}

func (h *Hub) handleTyping(c *Conn, ev Inbound, out EventType) {
	if ev.ConversationID == "" {
		return
	}
	payload := TypingPayload{
		ConversationID: ev.ConversationID,
		UserID:         c.userID,
		Username:       c.username,
	}
	if out == EventUserStoppedTyping {
		payload.Username = ""
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.joined[ev.ConversationID]))
	for conn := range h.joined[ev.ConversationID] {
		if conn.userID != c.userID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	msg := Outbound{Type: out, Payload: payload}
	for _, conn := range targets {
		h.sendToConn(conn, msg)
	}
}

// Assign transfers conversation ownership to agentID and notifies everyone
// affected. Both the new and the previous agent get unread_sync_required:
// their push-derived counters stop being meaningful the moment ownership
// moves, so each must re-pull rather than merge.
func (h *Hub) Assign(ctx context.Context, conversationID, agentID string) error {
	defer logger.DeferLogDuration("ws.Assign", time.Now())()
	conv, err := h.convStore.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	previous, err := h.convStore.Assign(ctx, conversationID, agentID)
	if err != nil {
		return err
	}
	if err := h.counters.Invalidate(ctx, conversationID); err != nil {
		logger.Errorf("ws counter invalidate conversation=%s: %v", conversationID, err)
	}

	notify := map[string]struct{}{conv.CustomerID: {}, agentID: {}}
	if previous != nil {
		notify[*previous] = struct{}{}
	}
	h.mu.RLock()
	for conn := range h.joined[conversationID] {
		notify[conn.userID] = struct{}{}
	}
	h.mu.RUnlock()

	out := Outbound{Type: EventConversationAssigned, Payload: AssignedPayload{
		ConversationID:  conversationID,
		NewAgentID:      agentID,
		PreviousAgentID: previous,
	}}
	for uid := range notify {
		h.sendToUser(uid, out)
	}

	h.sendToUser(agentID, Outbound{Type: EventUnreadSyncRequired, Payload: UnreadSyncPayload{UserID: agentID}})
	if previous != nil && *previous != agentID {
		h.sendToUser(*previous, Outbound{Type: EventUnreadSyncRequired, Payload: UnreadSyncPayload{UserID: *previous}})
	}
	return nil
}

// Disconnect closes every live connection of one user. Called when the
// upstream auth layer revokes a session; clients treat the close as a
// transient fault and redial.
func (h *Hub) Disconnect(userID string) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

// recipients is the set of users who get pushes for a conversation: the
// customer, the assigned agent, and anyone currently joined (e.g. an agent
// browsing an unassigned queue).
func (h *Hub) recipients(conv *model.Conversation) map[string]struct{} {
	set := map[string]struct{}{conv.CustomerID: {}}
	if conv.AssignedAgentID != nil {
		set[*conv.AssignedAgentID] = struct{}{}
	}
	h.mu.RLock()
	for conn := range h.joined[conv.ID] {
		set[conn.userID] = struct{}{}
	}
	h.mu.RUnlock()
	return set
}

func (h *Hub) isOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToUser(userID string, ev Outbound) {
	h.mu.RLock()
	conns, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToConn(c, ev)
	}
}

func (h *Hub) sendToConn(c *Conn, ev Outbound) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Conn) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
