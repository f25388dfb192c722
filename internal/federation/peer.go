// Package federation implements the per-session agent manager: a small
// actor network of outbound connections to peer dockpilot servers, each
// independently authenticated and version-gated, with a routing step ahead
// of local handler dispatch (spec §4.7, §9 design note "Federation peers
// as message-passing actors").
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aureuma/dockpilot/internal/wsproto"
)

// BroadcastEndpoint is the sentinel routing key that fans a call out to
// every Online peer and also dispatches it locally (spec §4.7).
const BroadcastEndpoint = "##ALL_DOCKGE_ENDPOINTS##"

// minimumPeerVersion is the semantic version floor; older peers are
// disconnected after version negotiation (spec §3 Agent invariant).
var minimumPeerVersion = [3]int{1, 4, 0}

// Status is a peer connection's place in the state machine (spec §4.7).
type Status int

const (
	StatusOffline Status = iota
	StatusConnecting
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOnline:
		return "online"
	default:
		return "offline"
	}
}

// Credentials are the stored agent record needed to log in to a peer.
type Credentials struct {
	Endpoint string // host:port
	URL      string
	Username string
	Password string
}

// Peer is one outbound connection owned by a single session's Manager.
type Peer struct {
	creds Credentials

	mu       sync.RWMutex
	status   Status
	loggedIn bool
	conn     *wsproto.Conn
	lastMsg  string

	onStatusChange func(endpoint string, status Status, msg string)
	log            *log.Logger
}

func newPeer(creds Credentials, onStatusChange func(string, Status, string), logger *log.Logger) *Peer {
	return &Peer{creds: creds, onStatusChange: onStatusChange, log: logger}
}

func (p *Peer) setStatus(status Status, msg string) {
	p.mu.Lock()
	p.status = status
	p.lastMsg = msg
	p.mu.Unlock()
	if p.onStatusChange != nil {
		p.onStatusChange(p.creds.Endpoint, status, msg)
	}
}

// Status reports the peer's current connection state.
func (p *Peer) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// connect dials the peer, performs the login handshake, and version-gates
// on the first "info" event (spec §4.7). Failures leave the peer Offline.
func (p *Peer) connect(ctx context.Context) {
	p.setStatus(StatusConnecting, "")

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, wsURL(p.creds.URL), nil)
	if err != nil {
		p.setStatus(StatusOffline, err.Error())
		return
	}
	conn := wsproto.NewConn(ws)

	loginArgs, _ := json.Marshal(map[string]string{
		"username": p.creds.Username,
		"password": p.creds.Password,
	})
	if err := conn.WriteFrame(ctx, wsproto.Frame{ID: "login", Event: "login", Args: []json.RawMessage{loginArgs}}); err != nil {
		p.setStatus(StatusOffline, err.Error())
		return
	}
	reply, err := conn.ReadFrame(ctx)
	if err != nil || !reply.OK {
		msg := "login failed"
		if err != nil {
			msg = err.Error()
		} else if reply.Msg != "" {
			msg = reply.Msg
		}
		p.setStatus(StatusOffline, msg)
		return
	}

	infoFrame, err := conn.ReadFrame(ctx)
	if err != nil || infoFrame.Event != "info" {
		p.setStatus(StatusOffline, "no info handshake from peer")
		return
	}
	version, _ := infoFrame.Data.(map[string]any)["version"].(string)
	if !versionAtLeast(version, minimumPeerVersion) {
		_ = conn.Close(websocket.StatusNormalClosure, "version too old")
		p.setStatus(StatusOffline, fmt.Sprintf("peer version %q below minimum", version))
		return
	}

	p.mu.Lock()
	p.conn = conn
	p.loggedIn = true
	p.mu.Unlock()
	p.setStatus(StatusOnline, "")
}

// Call forwards a request to the peer and returns its reply verbatim
// (spec §4.7 "Response folding").
func (p *Peer) Call(ctx context.Context, event string, args []json.RawMessage) (any, error) {
	p.mu.RLock()
	conn := p.conn
	online := p.status == StatusOnline
	p.mu.RUnlock()
	if !online || conn == nil {
		return nil, fmt.Errorf("federation: peer %s not online", p.creds.Endpoint)
	}

	id := fmt.Sprintf("fed-%d", time.Now().UnixNano())
	if err := conn.WriteFrame(ctx, wsproto.Frame{ID: id, Event: event, Args: args}); err != nil {
		p.setStatus(StatusOffline, err.Error())
		return nil, err
	}
	reply, err := conn.ReadFrame(ctx)
	if err != nil {
		p.setStatus(StatusOffline, err.Error())
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("%s", reply.Msg)
	}
	return reply.Data, nil
}

func (p *Peer) disconnect() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.loggedIn = false
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session disconnect")
	}
	p.setStatus(StatusOffline, "")
}

func wsURL(httpURL string) string {
	// Peer URLs are stored as host:port or http(s) URLs; normalise to ws(s).
	switch {
	case len(httpURL) >= 8 && httpURL[:8] == "https://":
		return "wss://" + httpURL[8:]
	case len(httpURL) >= 7 && httpURL[:7] == "http://":
		return "ws://" + httpURL[7:]
	case len(httpURL) >= 5 && httpURL[:5] == "ws://", len(httpURL) >= 6 && httpURL[:6] == "wss://":
		return httpURL
	default:
		return "ws://" + httpURL
	}
}

func versionAtLeast(v string, floor [3]int) bool {
	parts := parseSemver(v)
	for i := 0; i < 3; i++ {
		if parts[i] > floor[i] {
			return true
		}
		if parts[i] < floor[i] {
			return false
		}
	}
	return true
}

func parseSemver(v string) [3]int {
	var out [3]int
	var idx, num int
	started := false
	for _, r := range v {
		if r >= '0' && r <= '9' {
			num = num*10 + int(r-'0')
			started = true
			continue
		}
		if r == '.' {
			if idx < 3 {
				out[idx] = num
			}
			idx++
			num = 0
			started = false
			continue
		}
		break
	}
	if started && idx < 3 {
		out[idx] = num
	}
	return out
}
