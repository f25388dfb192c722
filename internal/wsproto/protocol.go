// Package wsproto implements the bidirectional named-message wire protocol
// described in spec §6: every client request carries an event name, a
// positional argument vector, and a reply slot; every reply is
// {ok:true,...} or {ok:false,msg}. Transport is a WebSocket
// (github.com/coder/websocket); framing is one JSON object per message,
// the idiomatic-Go rendering of a "Socket.io-compatible" channel — this
// system makes no claim of wire compatibility with any specific prior
// implementation (spec §1 Non-goals).
package wsproto

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Frame is the envelope for both directions of traffic.
type Frame struct {
	// ID correlates a request with its reply; empty on server-pushed events.
	ID string `json:"id,omitempty"`
	// Event is the event name: set on requests and on server-pushed events;
	// empty on replies.
	Event string `json:"event,omitempty"`
	// Args carries positional request arguments.
	Args []json.RawMessage `json:"args,omitempty"`

	// Reply fields.
	OK   bool   `json:"ok,omitempty"`
	Data any    `json:"data,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// Conn wraps a WebSocket connection with Frame-level read/write. A session's
// conn is shared by its read/reply loop, every terminal it has joined, the
// broadcast scheduler, and (for authenticated sessions) other sessions'
// handlers and the federation manager's status callback — coder/websocket
// allows at most one concurrent writer, so writeMu serializes all of them.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewConn wraps an already-accepted/dialed websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadFrame blocks for the next frame.
func (c *Conn) ReadFrame(ctx context.Context) (Frame, error) {
	var f Frame
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("wsproto: read: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("wsproto: decode frame: %w", err)
	}
	return f, nil
}

// WriteFrame sends a frame verbatim. Safe for concurrent use.
func (c *Conn) WriteFrame(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("wsproto: encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsproto: write: %w", err)
	}
	return nil
}

// WriteEvent pushes a server-originated event with no reply slot.
func (c *Conn) WriteEvent(ctx context.Context, event string, data any) error {
	return c.WriteFrame(ctx, Frame{Event: event, Data: data})
}

// Reply sends a success or failure reply for the request id.
func (c *Conn) Reply(ctx context.Context, id string, data any, err error) error {
	if err != nil {
		return c.WriteFrame(ctx, Frame{ID: id, OK: false, Msg: err.Error()})
	}
	return c.WriteFrame(ctx, Frame{ID: id, OK: true, Data: data})
}

// Close closes the underlying connection with the given code and reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Close(code, reason)
}
