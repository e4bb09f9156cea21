package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/ws"
)

// State is the connection session lifecycle.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	sessionSendBuf  = 256
	sessionWriteTTL = 10 * time.Second
	// Capped exponential backoff. The cap is deliberate: the transport's
	// retry is indefinite but never slower than maxBackoff.
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// envelope is the server's outbound frame before payload-specific decoding.
type envelope struct {
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionHooks struct {
	// onEvent runs on the read goroutine; one event is fully handled before
	// the next is read (no handler re-entrancy).
	onEvent func(ws.EventType, json.RawMessage)
	onState func(State)
	// onConnected fires after every successful (re)connect, once joined
	// conversations have been re-announced. Consumers treat it as the
	// trigger for a full resync, never a partial one.
	onConnected func()
}

// Session owns one transport connection. On unexpected drop it reconnects
// with capped exponential backoff; a server-initiated close is treated as a
// transient fault and redialed immediately. Channel membership does not
// survive a transport restart, so every joined conversation is re-joined
// after each successful dial.
type Session struct {
	url    string
	dialer *websocket.Dialer
	hooks  sessionHooks

	mu       sync.Mutex
	state    State
	attempts int
	joined   map[string]struct{}
	closed   bool

	send chan ws.Inbound
	done chan struct{}
	wg   sync.WaitGroup
}

func newSession(url string, hooks sessionHooks) *Session {
	return &Session{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		hooks:  hooks,
		state:  StateConnecting,
		joined: make(map[string]struct{}),
		send:   make(chan ws.Inbound, sessionSendBuf),
		done:   make(chan struct{}),
	}
}

// Run dials and serves the connection until ctx is cancelled or Close is
// called. It blocks; callers run it on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	for {
		if s.isClosed() || ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			wait := s.nextBackoff()
			logger.Errorf("session dial %s: %v (retry in %v)", s.url, err, wait)
			s.setState(StateReconnecting)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
			case <-s.done:
			}
			s.setState(StateDisconnected)
			return
		}

		s.resetBackoff()
		s.setState(StateConnected)

		// Membership is not assumed to survive a transport restart.
		for _, id := range s.joinedList() {
			s.Send(ws.Inbound{Type: ws.EventJoinConversation, ConversationID: id})
		}
		if s.hooks.onConnected != nil {
			s.hooks.onConnected()
		}

		graceful := s.serve(ctx, conn)
		if s.isClosed() || ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}
		s.setState(StateReconnecting)
		if graceful {
			// Server terminated the session: transient, redial at once.
			continue
		}
		wait := s.nextBackoff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return
		case <-s.done:
			s.setState(StateDisconnected)
			return
		}
	}
}

// serve runs the read loop and a per-connection writer. Returns true when
// the peer closed the connection gracefully.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) bool {
	connDone := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(conn, connDone)
	}()

	graceful := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				graceful = true
			}
			break
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("session decode event: %v", err)
			continue
		}
		if s.hooks.onEvent != nil {
			s.hooks.onEvent(env.Type, env.Payload)
		}
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.done:
			conn.Close()
		default:
		}
	}

	close(connDone)
	conn.Close()
	return graceful
}

func (s *Session) writeLoop(conn *websocket.Conn, connDone chan struct{}) {
	for {
		select {
		case ev := <-s.send:
			if err := conn.SetWriteDeadline(time.Now().Add(sessionWriteTTL)); err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				// Fire-and-forget: the event is lost, the resync after
				// reconnect restores consistency.
				conn.Close()
				return
			}
		case <-connDone:
			return
		case <-s.done:
			_ = conn.WriteMessage(websocket.CloseMessage, nil)
			conn.Close()
			return
		}
	}
}

// Send queues an event. Non-blocking: when the buffer is full (prolonged
// disconnect) the event is dropped and the next resync reconciles.
func (s *Session) Send(ev ws.Inbound) {
	select {
	case s.send <- ev:
	case <-s.done:
	default:
		logger.Errorf("session send buffer full, dropping %s", ev.Type)
	}
}

// Join marks a conversation as subscribed and announces it. The subscription
// is replayed on every reconnect.
func (s *Session) Join(conversationID string) {
	s.mu.Lock()
	s.joined[conversationID] = struct{}{}
	s.mu.Unlock()
	s.Send(ws.Inbound{Type: ws.EventJoinConversation, ConversationID: conversationID})
}

// Leave drops the subscription.
func (s *Session) Leave(conversationID string) {
	s.mu.Lock()
	delete(s.joined, conversationID)
	s.mu.Unlock()
	s.Send(ws.Inbound{Type: ws.EventLeaveConversation, ConversationID: conversationID})
}

// Joined reports whether a conversation is currently subscribed.
func (s *Session) Joined(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[conversationID]
	return ok
}

func (s *Session) joinedList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	return out
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.hooks.onState != nil {
		s.hooks.onState(st)
	}
}

func (s *Session) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := minBackoff << s.attempts
	if wait > maxBackoff || wait <= 0 {
		wait = maxBackoff
	}
	if s.attempts < 30 {
		s.attempts++
	}
	return wait
}

func (s *Session) resetBackoff() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

// Attempts returns the reconnect attempt count since the last success.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
}
