package wsproto

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes one request frame for a session and returns the reply
// payload, or an error which becomes {ok:false, msg}.
type Handler func(ctx context.Context, s *Session, args []json.RawMessage) (any, error)

// Router dispatches named events to handlers (spec §4.6). Every handler
// except those in publicEvents requires an authenticated session.
type Router struct {
	handlers     map[string]Handler
	publicEvents map[string]struct{}
}

// NewRouter builds an empty router. setup, login, and loginByToken are
// always public (spec §4.6).
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
		publicEvents: map[string]struct{}{
			"setup":        {},
			"login":        {},
			"loginByToken": {},
		},
	}
}

// Handle registers a handler for event.
func (r *Router) Handle(event string, h Handler) {
	r.handlers[event] = h
}

// Dispatch runs the handler registered for f.Event, asserting
// authentication where required, and writes the reply to conn (spec
// §4.6(a)-(d)).
func (r *Router) Dispatch(ctx context.Context, s *Session, f Frame) {
	h, ok := r.handlers[f.Event]
	if !ok {
		_ = s.conn.Reply(ctx, f.ID, nil, fmt.Errorf("unknown event %q", f.Event))
		return
	}

	if _, public := r.publicEvents[f.Event]; !public && !s.IsAuthenticated() {
		_ = s.conn.Reply(ctx, f.ID, nil, fmt.Errorf("not authenticated"))
		return
	}

	data, err := h(ctx, s, f.Args)
	_ = s.conn.Reply(ctx, f.ID, data, err)
}

// Serve reads frames from s until the connection closes or ctx is
// cancelled, dispatching each one. Handlers run synchronously per session
// (spec: handlers that spawn long-running work must return immediately
// after starting it, not block Serve's read loop).
func (r *Router) Serve(ctx context.Context, s *Session) error {
	for {
		f, err := s.conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if f.Event == "" {
			continue
		}
		r.Dispatch(ctx, s, f)
	}
}
