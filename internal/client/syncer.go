package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/ws"
)

// Options configures a Syncer for one viewer.
type Options struct {
	// BaseURL is the API origin, e.g. "http://localhost:8080". The push
	// transport endpoint is derived from it.
	BaseURL    string
	ViewerID   string
	ViewerName string

	// TypingTTL bounds how long a remote typing signal stays visible
	// without refresh. Zero means DefaultTypingTTL.
	TypingTTL time.Duration
	// HistoryLimit caps messages pulled per conversation. Zero lets the
	// server pick.
	HistoryLimit int
	// PullRetryDelay is the wait before the single retry of a failed
	// unread pull. Zero means 2s.
	PullRetryDelay time.Duration
}

// Callbacks is how the consumer (the portal view layer) observes state
// changes. All callbacks run on the transport's read goroutine or an expiry
// timer goroutine; they must not block.
type Callbacks struct {
	// OnMessage fires once per message id, duplicates already filtered.
	OnMessage func(conversationID string, m model.Message)
	// OnHistory fires when a conversation's log was replaced by a pull.
	OnHistory func(conversationID string, msgs []model.Message)
	// OnTyping fires with the full currently-typing set on every change.
	OnTyping func(conversationID string, usernames []string)
	// OnRead fires when any participant's read receipt lands, the
	// viewer's other devices included.
	OnRead func(p ws.MessageReadPayload)
	// OnUnread fires with the value and its trust state. Stale counters
	// are rendered as a generic badge, never a number.
	OnUnread func(conversationID string, count int, state CounterState)
	// OnAssigned fires for every assignment handoff the viewer observes.
	OnAssigned func(p ws.AssignedPayload)
	// OnConversationDropped fires after a terminal pull fault wiped the
	// conversation's local state.
	OnConversationDropped func(conversationID string, err error)
	// OnState fires on connection state transitions.
	OnState func(State)
}

// Syncer is the top-level synchronization façade: one per signed-in viewer.
// It owns the connection session, the message log, the unread reconciler,
// the typing tracker and the assignment coordinator, and keeps them
// consistent across reconnects.
type Syncer struct {
	opts    Options
	cb      Callbacks
	session *Session
	puller  *Puller
	log     *Log
	unread  *Reconciler
	typing  *Tracker
	assign  *Coordinator

	runCtx context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	localTyping map[string]*time.Timer
}

func NewSyncer(opts Options, cb Callbacks) *Syncer {
	if opts.PullRetryDelay <= 0 {
		opts.PullRetryDelay = 2 * time.Second
	}
	s := &Syncer{
		opts:        opts,
		cb:          cb,
		puller:      NewPuller(opts.BaseURL, opts.ViewerID, opts.ViewerName),
		unread:      NewReconciler(),
		assign:      NewCoordinator(opts.ViewerID),
		localTyping: make(map[string]*time.Timer),
	}
	s.log = NewLog(opts.ViewerID, func(conversationID string) {
		s.unread.ApplyDelta(conversationID)
		s.emitUnread(conversationID)
	})
	s.typing = NewTracker(opts.TypingTTL, func(conversationID string) {
		if cb.OnTyping != nil {
			cb.OnTyping(conversationID, s.typing.Typing(conversationID))
		}
	})
	s.session = newSession(wsURL(opts), sessionHooks{
		onEvent:     s.handleEvent,
		onState:     s.handleState,
		onConnected: s.handleConnected,
	})
	return s
}

func wsURL(opts Options) string {
	u := opts.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	q.Set("viewer_id", opts.ViewerID)
	q.Set("viewer_name", opts.ViewerName)
	return u + "/ws?" + q.Encode()
}

// Start connects and keeps the session alive until ctx ends or Close is
// called. Non-blocking.
func (s *Syncer) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	go s.session.Run(s.runCtx)
}

// Close tears everything down. Safe to call more than once.
func (s *Syncer) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.session.Close()
	s.typing.Stop()
	s.mu.Lock()
	for _, t := range s.localTyping {
		t.Stop()
	}
	s.localTyping = make(map[string]*time.Timer)
	s.mu.Unlock()
}

// State returns the connection state.
func (s *Syncer) State() State { return s.session.State() }

// Messages returns a conversation's messages in display order.
func (s *Syncer) Messages(conversationID string) []model.Message {
	return s.log.Ordered(conversationID)
}

// Unread returns a conversation's counter and its trust state.
func (s *Syncer) Unread(conversationID string) (int, CounterState) {
	return s.unread.Count(conversationID)
}

// UnreadTotal is the portal-wide badge value.
func (s *Syncer) UnreadTotal() int { return s.unread.Total() }

// Typing returns who is typing in a conversation.
func (s *Syncer) Typing(conversationID string) []string {
	return s.typing.Typing(conversationID)
}

// Join subscribes to a conversation and pulls its history.
func (s *Syncer) Join(conversationID string) {
	s.session.Join(conversationID)
	go s.resyncConversation(conversationID)
}

// Leave unsubscribes. Local state is kept: an unread badge for a
// conversation the viewer backed out of is still meaningful.
func (s *Syncer) Leave(conversationID string) {
	s.session.Leave(conversationID)
}

// Send queues an outgoing message. Fire-and-forget: delivery confirmation is
// the new_message echo, consistency is the next resync.
func (s *Syncer) Send(conversationID, content string, attachment *model.Attachment) {
	s.stopLocalTyping(conversationID, true)
	s.session.Send(ws.Inbound{
		Type:           ws.EventSendMessage,
		ConversationID: conversationID,
		Content:        content,
		Attachment:     attachment,
	})
}

// MarkRead reports the conversation's unread messages as read and zeroes the
// local counter optimistically. Idempotent when nothing is unread.
func (s *Syncer) MarkRead(conversationID string) {
	ids := s.log.UnreadIDs(conversationID)
	if len(ids) == 0 {
		return
	}
	s.log.MarkRead(conversationID, ids)
	s.unread.ApplyRead(conversationID)
	s.emitUnread(conversationID)
	s.session.Send(ws.Inbound{
		Type:           ws.EventMessageRead,
		ConversationID: conversationID,
		MessageIDs:     ids,
	})
}

// StartTyping announces the viewer is composing. Re-arms a local auto-stop
// so a viewer who abandons the input without blurring it still stops.
func (s *Syncer) StartTyping(conversationID string) {
	ttl := s.typing.ttl
	s.mu.Lock()
	if t, ok := s.localTyping[conversationID]; ok {
		t.Reset(ttl)
		s.mu.Unlock()
		return
	}
	s.localTyping[conversationID] = time.AfterFunc(ttl, func() {
		s.stopLocalTyping(conversationID, true)
	})
	s.mu.Unlock()
	s.session.Send(ws.Inbound{Type: ws.EventTypingStart, ConversationID: conversationID})
}

// StopTyping announces the viewer stopped composing.
func (s *Syncer) StopTyping(conversationID string) {
	s.stopLocalTyping(conversationID, true)
}

func (s *Syncer) stopLocalTyping(conversationID string, announce bool) {
	s.mu.Lock()
	t, ok := s.localTyping[conversationID]
	if ok {
		t.Stop()
		delete(s.localTyping, conversationID)
	}
	s.mu.Unlock()
	if ok && announce {
		s.session.Send(ws.Inbound{Type: ws.EventTypingStop, ConversationID: conversationID})
	}
}

func (s *Syncer) handleState(st State) {
	if s.cb.OnState != nil {
		s.cb.OnState(st)
	}
}

// handleConnected runs after every successful (re)connect. The resync is
// always full: we cannot know which pushes were missed, so we do not try.
func (s *Syncer) handleConnected() {
	go s.resyncAll()
}

func (s *Syncer) handleEvent(t ws.EventType, payload json.RawMessage) {
	switch t {
	case ws.EventNewMessage:
		var m model.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			logger.Errorf("decode new_message: %v", err)
			return
		}
		if s.log.Append(m) && s.cb.OnMessage != nil {
			s.cb.OnMessage(m.ConversationID, m)
		}

	case ws.EventUserTyping:
		var p ws.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		if p.UserID == s.opts.ViewerID {
			return
		}
		s.typing.Add(p.ConversationID, p.UserID, p.Username)

	case ws.EventUserStoppedTyping:
		var p ws.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		s.typing.Remove(p.ConversationID, p.UserID)

	case ws.EventMessageRead:
		var p ws.MessageReadPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		s.log.MarkRead(p.ConversationID, p.MessageIDs)
		if s.cb.OnRead != nil {
			s.cb.OnRead(p)
		}
		// Another device of the same viewer read the conversation: this
		// viewer's own badge drops too. A peer's read receipt does not
		// touch the counter.
		if p.ReaderID == s.opts.ViewerID {
			s.unread.ApplyRead(p.ConversationID)
			s.emitUnread(p.ConversationID)
		}

	case ws.EventUnreadCount:
		var p ws.UnreadCountPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		s.unread.ApplyEstimate(p.ConversationID, p.Count)
		s.emitUnread(p.ConversationID)

	case ws.EventConversationAssigned:
		var p ws.AssignedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		needsResync := s.assign.Apply(p)
		if s.cb.OnAssigned != nil {
			s.cb.OnAssigned(p)
		}
		if needsResync {
			s.unread.MarkStale(p.ConversationID)
			s.emitUnread(p.ConversationID)
			go func() {
				s.resyncConversation(p.ConversationID)
				s.pullUnread()
			}()
		}

	case ws.EventUnreadSyncRequired:
		go s.pullUnread()

	case ws.EventError:
		var p ws.ErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		logger.Errorf("server rejected event: %s", p.Message)

	default:
		logger.Infof("ignoring unknown event type %q", t)
	}
}

// resyncAll rebuilds local state from pulls: the conversation list (seeds
// assignment ownership), the unread snapshot, and history for every joined
// conversation.
func (s *Syncer) resyncAll() {
	ctx := s.ctx()
	sums, err := s.puller.Conversations(ctx)
	if err != nil {
		logger.Errorf("resync conversations: %v", err)
	} else {
		for _, sum := range sums {
			s.assign.Track(sum.Conversation.ID, sum.Conversation.AssignedAgentID)
		}
	}

	s.pullUnread()

	for _, id := range s.session.joinedList() {
		s.resyncConversation(id)
	}
}

// resyncConversation replaces a conversation's local log with pulled
// history. A terminal rejection (viewer lost access) wipes the conversation
// everywhere instead of retrying. Messages the snapshot sees first still get
// an OnMessage: their push echo, arriving later, dedupes silently.
func (s *Syncer) resyncConversation(conversationID string) {
	seq := s.log.BeginPull(conversationID)
	msgs, err := s.puller.History(s.ctx(), conversationID, s.opts.HistoryLimit)
	if err != nil {
		if IsTerminal(err) {
			s.dropConversation(conversationID, err)
			return
		}
		logger.Errorf("resync history conversation=%s: %v", conversationID, err)
		return
	}
	added, ok := s.log.Replace(conversationID, seq, msgs)
	if !ok {
		// A later-issued pull already landed; this snapshot is history.
		return
	}
	if s.cb.OnHistory != nil {
		s.cb.OnHistory(conversationID, msgs)
	}
	if s.cb.OnMessage != nil {
		for _, m := range added {
			s.cb.OnMessage(conversationID, m)
		}
	}
}

// pullUnread fetches the authoritative unread snapshot. One retry, then the
// reconciler is flagged degraded; the previous values stay on screen rather
// than flashing to zero.
func (s *Syncer) pullUnread() {
	ctx := s.ctx()
	seq := s.unread.BeginPull()
	counts, err := s.puller.UnreadCounts(ctx)
	if err != nil {
		logger.Errorf("unread pull: %v (retrying once)", err)
		select {
		case <-time.After(s.opts.PullRetryDelay):
		case <-ctx.Done():
			s.unread.PullFailed()
			return
		}
		counts, err = s.puller.UnreadCounts(ctx)
	}
	if err != nil {
		logger.Errorf("unread pull retry: %v", err)
		s.unread.PullFailed()
		return
	}
	if !s.unread.ApplyPull(seq, counts) {
		// A newer pull already landed; this snapshot is history.
		return
	}
	if s.cb.OnUnread != nil {
		for id, n := range counts {
			s.cb.OnUnread(id, n, Authoritative)
		}
	}
}

// dropConversation wipes every trace of a conversation after a terminal
// fault and tells the consumer why.
func (s *Syncer) dropConversation(conversationID string, err error) {
	s.session.Leave(conversationID)
	s.log.Drop(conversationID)
	s.unread.Drop(conversationID)
	s.assign.Drop(conversationID)
	s.stopLocalTyping(conversationID, false)
	if s.cb.OnConversationDropped != nil {
		s.cb.OnConversationDropped(conversationID, err)
	}
}

func (s *Syncer) emitUnread(conversationID string) {
	if s.cb.OnUnread == nil {
		return
	}
	n, st := s.unread.Count(conversationID)
	s.cb.OnUnread(conversationID, n, st)
}

func (s *Syncer) ctx() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
