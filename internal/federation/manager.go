package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// retryWindow is how long a targeted call polls a non-Online peer before
// failing (spec §4.7 "Routing").
const retryWindow = 10 * time.Second
const retryPoll = 1 * time.Second

// LocalDispatcher invokes a locally-registered handler, used when routing
// resolves to the empty endpoint or as the local half of a broadcast.
type LocalDispatcher func(ctx context.Context, event string, args []json.RawMessage) (any, error)

// Manager is the per-session federation manager (spec §4.7). Never shared
// between sessions — each session owns exactly one Manager instance.
type Manager struct {
	mu    sync.RWMutex
	peers map[string]*Peer

	localEndpoint string
	dispatchLocal LocalDispatcher
	onStatus      func(endpoint string, status Status, msg string)
	log           *log.Logger
}

// NewManager builds an empty manager. localEndpoint is this server's own
// endpoint tag (matched against the routing key to recognise "local").
func NewManager(localEndpoint string, dispatchLocal LocalDispatcher, onStatus func(string, Status, string), logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		peers:         make(map[string]*Peer),
		localEndpoint: localEndpoint,
		dispatchLocal: dispatchLocal,
		onStatus:      onStatus,
		log:           logger,
	}
}

// LoadAgents opens one outbound connection per active agent (spec §4.7:
// "On login, loads all active agents from persistence and opens one
// outbound message-connection per agent").
func (m *Manager) LoadAgents(ctx context.Context, agents []Credentials) {
	for _, creds := range agents {
		m.addPeer(ctx, creds)
	}
}

func (m *Manager) addPeer(ctx context.Context, creds Credentials) *Peer {
	p := newPeer(creds, m.onStatus, m.log)
	m.mu.Lock()
	m.peers[creds.Endpoint] = p
	m.mu.Unlock()
	go p.connect(ctx)
	return p
}

// AddAgent adds and connects a single new peer at runtime.
func (m *Manager) AddAgent(ctx context.Context, creds Credentials) {
	m.addPeer(ctx, creds)
}

// RemoveAgent disconnects and forgets a peer.
func (m *Manager) RemoveAgent(endpoint string) {
	m.mu.Lock()
	p, ok := m.peers[endpoint]
	delete(m.peers, endpoint)
	m.mu.Unlock()
	if ok {
		p.disconnect()
	}
}

// PeerStatus reports a peer's status, or StatusOffline with ok=false if
// unknown.
func (m *Manager) PeerStatus(endpoint string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[endpoint]
	if !ok {
		return StatusOffline, false
	}
	return p.Status(), true
}

// Route dispatches a client request according to its endpoint routing key
// (spec §4.7 "Routing"):
//   - "" or the local endpoint: dispatch locally.
//   - BroadcastEndpoint: dispatch locally AND to every Online peer; the
//     reply is the local dispatch's result (or error), and the peers'
//     replies are discarded — the mutating side effects are what matter.
//   - any other value: dispatch to that one peer, retrying up to 10s at
//     1Hz while it is not yet Online.
func (m *Manager) Route(ctx context.Context, endpoint, event string, args []json.RawMessage) (any, error) {
	switch endpoint {
	case "", m.localEndpoint:
		return m.dispatchLocal(ctx, event, args)
	case BroadcastEndpoint:
		return m.broadcast(ctx, event, args)
	default:
		return m.targeted(ctx, endpoint, event, args)
	}
}

func (m *Manager) broadcast(ctx context.Context, event string, args []json.RawMessage) (any, error) {
	localResult, localErr := m.dispatchLocal(ctx, event, args)

	m.mu.RLock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		if p.Status() == StatusOnline {
			peers = append(peers, p)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *Peer) {
			defer wg.Done()
			_, _ = p.Call(ctx, event, args)
		}(p)
	}
	wg.Wait()

	if localErr != nil {
		return nil, localErr
	}
	return localResult, nil
}

func (m *Manager) targeted(ctx context.Context, endpoint, event string, args []json.RawMessage) (any, error) {
	m.mu.RLock()
	p, ok := m.peers[endpoint]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("federation: unknown peer %q", endpoint)
	}

	if p.Status() != StatusOnline {
		deadline := time.Now().Add(retryWindow)
		ticker := time.NewTicker(retryPoll)
		defer ticker.Stop()
		for p.Status() != StatusOnline {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("federation: peer %q unreachable", endpoint)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return p.Call(ctx, event, args)
}

// Teardown disconnects every peer this manager owns (spec §4.7 "Teardown":
// session disconnect tears down all outbound peer connections).
func (m *Manager) Teardown() {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()
	for _, p := range peers {
		p.disconnect()
	}
}
