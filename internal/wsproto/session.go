package wsproto

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aureuma/dockpilot/internal/terminal"
)

// Session is the per-connection state named in spec §3 "Session" / §4.6.
type Session struct {
	id string

	conn *Conn

	// remoteAddr is the client IP the HTTP layer resolved for this
	// connection (spec §4.5 "rate limits per client IP"); immutable after
	// NewSession, so it needs no lock.
	remoteAddr string

	mu            sync.RWMutex
	userID        int64
	authenticated bool
	endpointTag   string
	subscriptions map[string]struct{}

	connected int32 // atomic bool, set to 0 on disconnect

	// Federation is an opaque handle to this session's agent manager; it is
	// typed as any here to avoid an import cycle between wsproto and
	// federation (federation imports wsproto for the *wsproto.Conn each
	// outbound peer connection uses).
	Federation any
}

var sessionSeq int64

// NewSession builds a fresh, unauthenticated session wrapping conn.
func NewSession(conn *Conn) *Session {
	id := atomic.AddInt64(&sessionSeq, 1)
	return &Session{
		id:            fmt.Sprintf("session-%d", id),
		conn:          conn,
		subscriptions: make(map[string]struct{}),
		connected:     1,
	}
}

// NewSessionWithRemoteAddr is NewSession plus the client IP the HTTP
// handshake resolved, used to key per-IP rate limiting.
func NewSessionWithRemoteAddr(conn *Conn, remoteAddr string) *Session {
	s := NewSession(conn)
	s.remoteAddr = remoteAddr
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Conn() *Conn { return s.conn }

// RemoteAddr returns the client IP resolved at handshake time, or "" if
// none was supplied (e.g. in tests that build a Session directly).
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Authenticate marks the session as belonging to userID.
func (s *Session) Authenticate(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.authenticated = true
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) SetEndpointTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpointTag = tag
}

func (s *Session) EndpointTag() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpointTag
}

// TrackSubscription records that this session joined terminal name, so
// disconnect cleanup (spec §5 "Cancellation") can find every terminal it
// must be removed from.
func (s *Session) TrackSubscription(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[name] = struct{}{}
}

func (s *Session) UntrackSubscription(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, name)
}

func (s *Session) SubscribedTerminals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscriptions))
	for n := range s.subscriptions {
		out = append(out, n)
	}
	return out
}

// MarkDisconnected flips Connected() to false; called once, on disconnect.
func (s *Session) MarkDisconnected() {
	atomic.StoreInt32(&s.connected, 0)
}

// Connected reports whether the session's underlying socket is still
// alive. Each joined terminal gets its own terminalSubscriber adapter
// below (a session can subscribe to many terminals at once, each needing
// its own name-tagged events), but all of them defer liveness to this
// shared flag.
func (s *Session) Connected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

var _ terminal.Subscriber = (*terminalSubscriber)(nil)

type terminalWritePayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type terminalExitPayload struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exitCode"`
}

// terminalSubscriber adapts a Session to terminal.Subscriber for one
// specific terminal name — a session can hold many of these, one per
// joined terminal, each tagging its events with the right name.
type terminalSubscriber struct {
	session *Session
	name    string
}

// NewTerminalSubscriber builds the per-terminal adapter a handler should
// pass to Terminal.Join.
func NewTerminalSubscriber(s *Session, name string) terminal.Subscriber {
	return &terminalSubscriber{session: s, name: name}
}

func (t *terminalSubscriber) ID() string { return t.session.id + ":" + t.name }

func (t *terminalSubscriber) Write(chunk []byte) {
	if !t.session.Connected() {
		return
	}
	_ = t.session.conn.WriteEvent(context.Background(), "terminalWrite", terminalWritePayload{Name: t.name, Data: chunk})
}

func (t *terminalSubscriber) Exit(code int) {
	if !t.session.Connected() {
		return
	}
	_ = t.session.conn.WriteEvent(context.Background(), "terminalExit", terminalExitPayload{Name: t.name, ExitCode: code})
}

func (t *terminalSubscriber) Connected() bool { return t.session.Connected() }
