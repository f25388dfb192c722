// Package server wires the request router, session state, and all client
// event handlers together: it is the glue named in spec §2 components H
// (socket session state), I (request router), J (broadcast scheduler), L
// (encryption at rest), and M (external-interface surface).
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/aureuma/dockpilot/internal/auth"
	"github.com/aureuma/dockpilot/internal/compose"
	"github.com/aureuma/dockpilot/internal/dockerapi"
	"github.com/aureuma/dockpilot/internal/federation"
	"github.com/aureuma/dockpilot/internal/store"
	"github.com/aureuma/dockpilot/internal/terminal"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

// App owns every process-wide collaborator and builds a Router wired to
// them. One App per process; many Sessions per App.
type App struct {
	Store         *store.Store
	SettingsCache *store.SettingsCache
	Registry      *terminal.Registry
	Engine        *compose.Engine
	Docker        *dockerapi.Client // nil if the daemon socket was unreachable at startup
	LoginLimiter  *auth.Limiter
	TwoFALimiter  *auth.Limiter
	Log           *log.Logger

	StacksDir     string
	EnableConsole bool
	LocalEndpoint string
	Version       string

	mu       sync.RWMutex
	sessions map[string]*wsproto.Session

	encKeyOnce sync.Once
	encKey     []byte
	encKeyErr  error
}

// NewApp constructs the glue given already-opened collaborators.
func NewApp(st *store.Store, reg *terminal.Registry, engine *compose.Engine, stacksDir string, enableConsole bool, version string, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Default()
	}
	return &App{
		Store:         st,
		SettingsCache: store.NewSettingsCache(st),
		Registry:      reg,
		Engine:        engine,
		LoginLimiter:  auth.NewLoginLimiter(),
		TwoFALimiter:  auth.NewTwoFALimiter(),
		Log:           logger,
		StacksDir:     stacksDir,
		EnableConsole: enableConsole,
		Version:       version,
		sessions:      make(map[string]*wsproto.Session),
	}
}

// trackSession registers s for broadcast fan-out; called once the session
// authenticates.
func (a *App) trackSession(s *wsproto.Session) {
	a.mu.Lock()
	a.sessions[s.ID()] = s
	a.mu.Unlock()
}

// Disconnect removes a session from broadcast fan-out and tears down its
// federation peers and terminal subscriptions (spec §5 "Cancellation").
func (a *App) Disconnect(s *wsproto.Session, mgr *federation.Manager) {
	a.mu.Lock()
	delete(a.sessions, s.ID())
	a.mu.Unlock()

	s.MarkDisconnected()
	if mgr != nil {
		mgr.Teardown()
	}
	for _, name := range s.SubscribedTerminals() {
		if t, ok := a.Registry.Get(name); ok {
			t.Leave(s.ID() + ":" + name)
		}
	}
}

// AuthenticatedSessions returns a snapshot of every tracked session, used
// by the broadcast scheduler.
func (a *App) AuthenticatedSessions() []*wsproto.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*wsproto.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	return out
}

// encryptionKey lazily loads or generates the passwordEncryptionKey
// setting (spec §4.9 "On first boot...").
func (a *App) encryptionKey() ([]byte, error) {
	a.encKeyOnce.Do(func() {
		raw, err := a.Store.GetSetting(store.SettingPasswordEncryptionKey)
		if err == nil && raw != "" {
			a.encKey = []byte(raw)
			return
		}
		key, genErr := newEncryptionKey()
		if genErr != nil {
			a.encKeyErr = genErr
			return
		}
		if err := a.Store.SetSetting(store.SettingPasswordEncryptionKey, string(key), "bytes"); err != nil {
			a.encKeyErr = err
			return
		}
		a.encKey = key
	})
	return a.encKey, a.encKeyErr
}

// jwtSecret lazily loads or generates the signing secret.
func (a *App) jwtSecret() ([]byte, error) {
	raw, err := a.SettingsCache.Get(store.SettingJWTSecret)
	if err == nil && raw != "" {
		return []byte(raw), nil
	}
	secret, genErr := newEncryptionKey()
	if genErr != nil {
		return nil, genErr
	}
	if err := a.SettingsCache.Set(store.SettingJWTSecret, string(secret), "bytes"); err != nil {
		return nil, err
	}
	return secret, nil
}

// rotateJWTSecret invalidates all outstanding bearer tokens (spec §4.5,
// §8 invariant 4).
func (a *App) rotateJWTSecret() error {
	secret, err := newEncryptionKey()
	if err != nil {
		return err
	}
	return a.SettingsCache.Set(store.SettingJWTSecret, string(secret), "bytes")
}

// BuildRouter registers every client->server event handler (spec §6
// "Client → server events (authoritative list)").
func (a *App) BuildRouter() *wsproto.Router {
	r := wsproto.NewRouter()

	r.Handle("setup", a.handleSetup)
	r.Handle("login", a.handleLogin)
	r.Handle("loginByToken", a.handleLoginByToken)
	r.Handle("changePassword", a.handleChangePassword)
	r.Handle("disconnectOtherSocketClients", a.handleDisconnectOtherSocketClients)

	r.Handle("getSettings", a.handleGetSettings)
	r.Handle("setSettings", a.handleSetSettings)
	r.Handle("composerize", a.handleComposerize)

	r.Handle("deployStack", a.routedStackHandler("deployStack"))
	r.Handle("saveStack", a.routedStackHandler("saveStack"))
	r.Handle("deleteStack", a.routedStackHandler("deleteStack"))
	r.Handle("getStack", a.routedStackHandler("getStack"))
	r.Handle("requestStackList", a.routedStackHandler("requestStackList"))
	r.Handle("startStack", a.routedStackHandler("startStack"))
	r.Handle("stopStack", a.routedStackHandler("stopStack"))
	r.Handle("restartStack", a.routedStackHandler("restartStack"))
	r.Handle("updateStack", a.routedStackHandler("updateStack"))
	r.Handle("downStack", a.routedStackHandler("downStack"))
	r.Handle("serviceStatusList", a.routedStackHandler("serviceStatusList"))
	r.Handle("getDockerNetworkList", a.routedStackHandler("getDockerNetworkList"))

	r.Handle("terminalInput", a.handleTerminalInput)
	r.Handle("mainTerminal", a.handleMainTerminal)
	r.Handle("checkMainTerminal", a.handleCheckMainTerminal)
	r.Handle("interactiveTerminal", a.handleInteractiveTerminal)
	r.Handle("terminalJoin", a.handleTerminalJoin)
	r.Handle("leaveCombinedTerminal", a.handleLeaveCombinedTerminal)
	r.Handle("terminalResize", a.handleTerminalResize)

	r.Handle("addAgent", a.handleAddAgent)
	r.Handle("removeAgent", a.handleRemoveAgent)
	r.Handle("agent", a.handleAgent)

	return r
}

// decodeArg is a small helper every handler uses to unmarshal positional
// argument i into dst.
func decodeArg(args []json.RawMessage, i int, dst any) error {
	if i >= len(args) {
		return fmt.Errorf("server: missing argument %d", i)
	}
	return json.Unmarshal(args[i], dst)
}

// sessionFederationManager retrieves (or reports absent) the per-session
// federation manager stashed in Session.Federation.
func sessionFederationManager(s *wsproto.Session) (*federation.Manager, bool) {
	mgr, ok := s.Federation.(*federation.Manager)
	return mgr, ok
}
