package federation

import (
	"context"
	"encoding/json"
	"testing"
)

func TestVersionAtLeast(t *testing.T) {
	tests := []struct {
		v    string
		want bool
	}{
		{"1.4.0", true},
		{"1.5.2", true},
		{"2.0.0", true},
		{"1.3.9", false},
		{"0.9.0", false},
		{"1.4", true},
	}
	for _, tc := range tests {
		if got := versionAtLeast(tc.v, minimumPeerVersion); got != tc.want {
			t.Fatalf("versionAtLeast(%q) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestRouteEmptyEndpointDispatchesLocally(t *testing.T) {
	called := false
	m := NewManager("", func(ctx context.Context, event string, args []json.RawMessage) (any, error) {
		called = true
		return "ok", nil
	}, nil, nil)

	result, err := m.Route(context.Background(), "", "requestStackList", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !called {
		t.Fatalf("expected local dispatch to be called")
	}
	if result != "ok" {
		t.Fatalf("expected local result to be returned")
	}
}

func TestRouteBroadcastDispatchesLocallyWithNoPeers(t *testing.T) {
	called := false
	m := NewManager("", func(ctx context.Context, event string, args []json.RawMessage) (any, error) {
		called = true
		return "local-done", nil
	}, nil, nil)

	result, err := m.Route(context.Background(), BroadcastEndpoint, "requestStackList", nil)
	if err != nil {
		t.Fatalf("Route broadcast: %v", err)
	}
	if !called {
		t.Fatalf("expected local dispatch to run as part of broadcast")
	}
	if result != "local-done" {
		t.Fatalf("expected local result folded into broadcast reply")
	}
}

func TestRouteUnknownPeerFails(t *testing.T) {
	m := NewManager("", func(ctx context.Context, event string, args []json.RawMessage) (any, error) {
		return nil, nil
	}, nil, nil)

	if _, err := m.Route(context.Background(), "node-9:5001", "requestStackList", nil); err == nil {
		t.Fatalf("expected routing to an unknown peer to fail")
	}
}

func TestAddThenRemoveAgentReturnsToPreAddState(t *testing.T) {
	m := NewManager("", func(ctx context.Context, event string, args []json.RawMessage) (any, error) {
		return nil, nil
	}, nil, nil)

	if _, ok := m.PeerStatus("node-2:5001"); ok {
		t.Fatalf("expected no peer before add")
	}
	m.RemoveAgent("node-2:5001") // removing a never-added peer is a no-op
	if _, ok := m.PeerStatus("node-2:5001"); ok {
		t.Fatalf("expected no peer after removing a nonexistent one")
	}

	m.AddAgent(context.Background(), Credentials{Endpoint: "node-2:5001", URL: "ws://127.0.0.1:1"})
	if _, ok := m.PeerStatus("node-2:5001"); !ok {
		t.Fatalf("expected peer to be known after add")
	}
	m.RemoveAgent("node-2:5001")
	if _, ok := m.PeerStatus("node-2:5001"); ok {
		t.Fatalf("expected no peer after add then remove")
	}
}
