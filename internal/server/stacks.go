package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aureuma/dockpilot/internal/compose"
	"github.com/aureuma/dockpilot/internal/store"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

// deleteDrainTimeout bounds how long doDeleteStack waits for the `compose
// down` subprocess to exit before giving up and removing the directory
// anyway; a stuck down should not wedge the handler forever.
const deleteDrainTimeout = 2 * time.Minute

// stackArgs is the positional envelope every stack event shares: endpoint
// routes (spec §4.7 "Routing": "" is local, a named value is a peer), name
// identifies the stack within that endpoint.
type stackArgs struct {
	Endpoint string
	Name     string
}

func decodeStackArgs(args []json.RawMessage) (stackArgs, error) {
	var endpoint, name string
	if err := decodeArg(args, 0, &endpoint); err != nil {
		return stackArgs{}, err
	}
	if len(args) > 1 {
		if err := decodeArg(args, 1, &name); err != nil {
			return stackArgs{}, err
		}
	}
	return stackArgs{Endpoint: endpoint, Name: name}, nil
}

// routedStackHandler wraps a stack event so it is dispatched through the
// session's federation manager: a local or own-endpoint routing key runs
// the handler directly, a peer endpoint forwards the call and relays the
// peer's reply verbatim (spec §4.7 "Response folding").
func (a *App) routedStackHandler(event string) wsproto.Handler {
	return func(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
		sa, err := decodeStackArgs(args)
		if err != nil {
			return nil, err
		}
		mgr, ok := sessionFederationManager(s)
		if !ok || mgr == nil {
			return a.dispatchLocalStackEvent(ctx, s, event, args)
		}
		return mgr.Route(ctx, sa.Endpoint, event, args)
	}
}

// dispatchLocalStackEvent runs the named event's local implementation; it
// is both the direct path (routedStackHandler with no federation manager
// yet attached) and the LocalDispatcher every Manager calls for "" /
// own-endpoint routing and as the local half of a broadcast.
func (a *App) dispatchLocalStackEvent(ctx context.Context, s *wsproto.Session, event string, args []json.RawMessage) (any, error) {
	switch event {
	case "deployStack":
		return a.doDeployStack(ctx, s, args)
	case "saveStack":
		return a.doSaveStack(ctx, s, args)
	case "deleteStack":
		return a.doDeleteStack(ctx, s, args)
	case "getStack":
		return a.doGetStack(ctx, s, args)
	case "requestStackList":
		return a.doRequestStackList(ctx, s, args)
	case "startStack":
		return a.doStartStack(ctx, s, args)
	case "stopStack":
		return a.doStopStack(ctx, s, args)
	case "restartStack":
		return a.doRestartStack(ctx, s, args)
	case "updateStack":
		return a.doUpdateStack(ctx, s, args)
	case "downStack":
		return a.doDownStack(ctx, s, args)
	case "serviceStatusList":
		return a.doServiceStatusList(ctx, s, args)
	case "getDockerNetworkList":
		return a.doGetDockerNetworkList(ctx, s, args)
	default:
		return nil, fmt.Errorf("server: unrouted local event %q", event)
	}
}

func (a *App) primaryHostname() string {
	v, _ := a.SettingsCache.Get(store.SettingPrimaryHostname)
	return v
}

func (a *App) doDeployStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	t, err := a.Engine.Deploy(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalName": t.Name()}, nil
}

func (a *App) doStartStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	t, err := a.Engine.Start(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalName": t.Name()}, nil
}

func (a *App) doStopStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	t, err := a.Engine.Stop(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalName": t.Name()}, nil
}

func (a *App) doRestartStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	t, err := a.Engine.Restart(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalName": t.Name()}, nil
}

func (a *App) doDownStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	t, err := a.Engine.Down(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalName": t.Name()}, nil
}

func (a *App) doUpdateStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	status, err := a.currentStatus(sa.Name, sa.Endpoint)
	if err != nil {
		status = compose.StatusUnknown
	}
	t, err := a.Engine.Update(sa.Name, sa.Endpoint, status)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalName": t.Name()}, nil
}

// currentStatus looks up a single stack's status out of the full list; the
// engine has no single-stack status accessor because List() already has to
// run docker compose ls once for everyone. A managed-set scan error still
// leaves a usable partial list (the daemon set), so the lookup proceeds
// against whatever List() returned rather than discarding it.
func (a *App) currentStatus(name, endpoint string) (compose.Status, error) {
	list, err := a.Engine.List()
	if err != nil {
		a.Log.Printf("server: list stacks (partial): %v", err)
	}
	for _, s := range list {
		if s.Name == name && s.Endpoint == endpoint {
			return s.Status, nil
		}
	}
	return compose.StatusUnknown, err
}

func (a *App) doDeleteStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	t, err := a.Engine.Delete(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	// Engine.Delete only spawns `compose down`; it still needs the stack's
	// compose.yaml on disk while it runs, so the directory must not be
	// removed until that subprocess has actually exited.
	drainCtx, cancel := context.WithTimeout(ctx, deleteDrainTimeout)
	defer cancel()
	if err := t.Await(drainCtx); err != nil {
		a.Log.Printf("server: delete stack %q: down did not drain before timeout: %v", sa.Name, err)
	}
	if err := a.Engine.RemoveDirectory(sa.Name); err != nil {
		a.Log.Printf("server: delete stack %q: remove directory: %v", sa.Name, err)
	}
	return map[string]bool{"ok": true}, nil
}

func (a *App) doSaveStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	var composeYAML, composeEnv string
	var isAdd bool
	if err := decodeArg(args, 2, &composeYAML); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 3, &composeEnv); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 4, &isAdd); err != nil {
		return nil, err
	}
	if err := a.Engine.Save(sa.Name, composeYAML, composeEnv, isAdd); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (a *App) doGetStack(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	status, err := a.currentStatus(sa.Name, sa.Endpoint)
	if err != nil {
		return nil, err
	}
	stack := compose.New(a.StacksDir, sa.Name, sa.Endpoint)
	full, err := stack.ToFull(status, a.primaryHostname())
	if err != nil {
		return nil, err
	}
	return full, nil
}

func (a *App) doRequestStackList(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	list, err := a.Engine.List()
	if err != nil {
		// List() only returns a non-nil error when the managed-set (stacks
		// directory) scan failed; the daemon set still populated what it
		// could. Degrade gracefully with the partial list rather than
		// failing the whole call (open question iii).
		a.Log.Printf("server: list stacks: %v", err)
	}
	return list, nil
}

func (a *App) doServiceStatusList(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	sa, err := decodeStackArgs(args)
	if err != nil {
		return nil, err
	}
	return a.Engine.PS(sa.Name, sa.Endpoint)
}

func (a *App) doGetDockerNetworkList(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	if a.Docker == nil {
		return nil, fmt.Errorf("server: docker daemon unavailable")
	}
	return a.Docker.ListNetworks(ctx)
}
