package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aureuma/dockpilot/internal/auth"
	"github.com/aureuma/dockpilot/internal/federation"
	"github.com/aureuma/dockpilot/internal/store"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

func (a *App) handleSetup(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var username, password string
	if err := decodeArg(args, 0, &username); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, &password); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("server: username and password required")
	}
	if _, err := a.Store.FirstUser(); err == nil {
		return nil, fmt.Errorf("server: setup already completed")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	id, err := a.Store.CreateUser(store.User{Username: username, Password: hash, Active: true})
	if err != nil {
		return nil, err
	}

	secret, err := a.jwtSecret()
	if err != nil {
		return nil, err
	}
	token, err := auth.IssueToken(secret, username, hash)
	if err != nil {
		return nil, err
	}

	s.Authenticate(id)
	a.attachFederation(s)
	a.trackSession(s)
	return map[string]any{"token": token}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// remoteIP returns the key the login/2FA rate limiters bucket on: the
// client IP the HTTP layer resolved at handshake time (spec §4.5 "rate
// limits per client IP"). Falling back to the session id would let an
// attacker reset their bucket by opening a new connection per attempt, so
// only sessions lacking any resolved address (direct in-process tests)
// fall back that way.
func (a *App) remoteIP(s *wsproto.Session) string {
	if ip := s.RemoteAddr(); ip != "" {
		return ip
	}
	return s.ID()
}

func (a *App) handleLogin(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	if !a.LoginLimiter.Allow(a.remoteIP(s)) {
		return nil, fmt.Errorf("too many login attempts, try again later")
	}

	var req loginRequest
	if err := decodeArg(args, 0, &req); err != nil {
		return nil, err
	}

	disableAuth, _ := a.SettingsCache.Get(store.SettingDisableAuth)
	var u store.User
	if disableAuth == "true" {
		var err error
		u, err = a.Store.FirstUser()
		if err != nil {
			return nil, fmt.Errorf("server: no user to auto-login")
		}
	} else {
		var err error
		u, err = a.Store.GetUserByUsername(req.Username)
		if err != nil || !u.Active || !auth.CheckPassword(u.Password, req.Password) {
			return nil, fmt.Errorf("incorrect username or password")
		}
	}

	if u.TwoFAEnabled {
		if !a.TwoFALimiter.Allow(a.remoteIP(s)) {
			return nil, fmt.Errorf("too many 2FA attempts, try again later")
		}
		if !auth.CheckTwoFACode(u.TwoFASecret, req.Token, u.TwoFALastToken) {
			return nil, fmt.Errorf("invalid or missing 2FA token")
		}
		if err := a.Store.UpdateTwoFALastToken(u.ID, req.Token); err != nil {
			return nil, err
		}
	}

	secret, err := a.jwtSecret()
	if err != nil {
		return nil, err
	}
	token, err := auth.IssueToken(secret, u.Username, u.Password)
	if err != nil {
		return nil, err
	}

	s.Authenticate(u.ID)
	a.attachFederation(s)
	a.trackSession(s)
	return map[string]any{"token": token}, nil
}

func (a *App) handleLoginByToken(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var token string
	if err := decodeArg(args, 0, &token); err != nil {
		return nil, err
	}

	secret, err := a.jwtSecret()
	if err != nil {
		return nil, err
	}
	username, hashHex, err := auth.VerifyToken(secret, token)
	if err != nil {
		return nil, fmt.Errorf("invalid or expired token")
	}

	u, err := a.Store.GetUserByUsername(username)
	if err != nil || !u.Active {
		return nil, fmt.Errorf("invalid or expired token")
	}
	// spec §4.5: "verify that SHAKE256 of the stored hash equals the h
	// claim" — the digest was derived from the bcrypt hash at issue time,
	// so it can be recomputed here from persistence alone. A password
	// change replaces u.Password, which fails this check even on the rare
	// occasion the signing secret hasn't rotated yet.
	if !auth.DigestMatchesStoredHash(hashHex, u.Password) {
		return nil, fmt.Errorf("invalid or expired token")
	}

	s.Authenticate(u.ID)
	a.attachFederation(s)
	a.trackSession(s)
	return map[string]any{"ok": true}, nil
}

func (a *App) handleChangePassword(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeArg(args, 0, &req); err != nil {
		return nil, err
	}

	u, err := a.Store.GetUserByID(s.UserID())
	if err != nil {
		return nil, fmt.Errorf("server: user not found")
	}
	if !auth.CheckPassword(u.Password, req.CurrentPassword) {
		return nil, fmt.Errorf("current password incorrect")
	}

	newHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := a.Store.UpdatePassword(u.ID, newHash); err != nil {
		return nil, err
	}
	// Rotating the signing secret invalidates every outstanding bearer
	// token (spec §4.5, §8 invariant 4).
	if err := a.rotateJWTSecret(); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (a *App) handleDisconnectOtherSocketClients(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	for _, other := range a.AuthenticatedSessions() {
		if other.ID() == s.ID() {
			continue
		}
		if other.UserID() == s.UserID() {
			_ = other.Conn().WriteEvent(ctx, "refresh", nil)
			_ = other.Conn().Close(4001, "disconnected by another client")
		}
	}
	return map[string]bool{"ok": true}, nil
}

// attachFederation builds this session's federation manager and loads its
// persisted peers, wiring local dispatch back through the same handler set
// the "agent" event uses (spec §4.7).
func (a *App) attachFederation(s *wsproto.Session) {
	local := func(ctx context.Context, event string, args []json.RawMessage) (any, error) {
		return a.dispatchLocalStackEvent(ctx, s, event, args)
	}
	mgr := federation.NewManager(a.LocalEndpoint, local, func(endpoint string, status federation.Status, msg string) {
		_ = s.Conn().WriteEvent(context.Background(), "agentStatus", map[string]any{
			"endpoint": endpoint,
			"status":   status.String(),
			"msg":      msg,
		})
	}, a.Log)
	s.Federation = mgr

	key, err := a.encryptionKey()
	if err != nil {
		a.Log.Printf("server: encryption key unavailable, skipping agent load: %v", err)
		return
	}
	agents, err := a.Store.ListAgents(key)
	if err != nil {
		a.Log.Printf("server: list agents: %v", err)
		return
	}
	creds := make([]federation.Credentials, 0, len(agents))
	for _, ag := range agents {
		if !ag.Active {
			continue
		}
		creds = append(creds, federation.Credentials{Endpoint: ag.URL, URL: ag.URL, Username: ag.Username, Password: ag.Password})
	}
	mgr.LoadAgents(context.Background(), creds)
}
