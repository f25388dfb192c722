package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aureuma/dockpilot/internal/federation"
	"github.com/aureuma/dockpilot/internal/store"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

type agentCredentials struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleAddAgent persists a new federation peer and connects to it
// immediately (spec §6 "addAgent({url, username, password})").
func (a *App) handleAddAgent(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var creds agentCredentials
	if err := decodeArg(args, 0, &creds); err != nil {
		return nil, err
	}
	key, err := a.encryptionKey()
	if err != nil {
		return nil, err
	}
	if _, err := a.Store.CreateAgent(key, store.Agent{
		URL:      creds.URL,
		Username: creds.Username,
		Password: creds.Password,
		Active:   true,
	}); err != nil {
		return nil, err
	}

	mgr, ok := sessionFederationManager(s)
	if ok && mgr != nil {
		mgr.AddAgent(ctx, federation.Credentials{
			Endpoint: creds.URL,
			URL:      creds.URL,
			Username: creds.Username,
			Password: creds.Password,
		})
	}
	return map[string]bool{"ok": true}, nil
}

// handleRemoveAgent forgets a peer both in persistence and in the live
// federation manager (spec §6 "removeAgent(url)").
func (a *App) handleRemoveAgent(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var url string
	if err := decodeArg(args, 0, &url); err != nil {
		return nil, err
	}
	if err := a.Store.RemoveAgent(url); err != nil {
		return nil, err
	}
	if mgr, ok := sessionFederationManager(s); ok && mgr != nil {
		mgr.RemoveAgent(url)
	}
	return map[string]bool{"ok": true}, nil
}

// handleAgent is the generic federation proxy event (spec §6
// "agent(endpoint, eventName, ...args)"; end-to-end scenario 4). It routes
// eventName's own args through the session's federation manager exactly as
// routedStackHandler does for the named stack events, folding a broadcast
// reply to the local result.
func (a *App) handleAgent(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var endpoint, eventName string
	if err := decodeArg(args, 0, &endpoint); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, &eventName); err != nil {
		return nil, err
	}
	innerArgs := args[2:]

	mgr, ok := sessionFederationManager(s)
	if !ok || mgr == nil {
		return nil, fmt.Errorf("server: no federation manager for session")
	}
	return mgr.Route(ctx, endpoint, eventName, innerArgs)
}
