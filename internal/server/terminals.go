package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aureuma/dockpilot/internal/terminal"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

// handleTerminalInput writes bytes to an already-joined terminal's stdin
// (terminalInput(name, bytes)). OneShot terminals reject input (open
// question ii): {ok:false, msg:"not interactive"}.
func (a *App) handleTerminalInput(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var name string
	var data []byte
	if err := decodeArg(args, 0, &name); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, &data); err != nil {
		return nil, err
	}
	t, ok := a.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("server: terminal %q not found", name)
	}
	if err := t.Write(data); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// handleMainTerminal gets-or-creates the global console MainShell terminal
// (spec §6 "mainTerminal(_)"). Guarded by EnableConsole (spec Non-goals:
// the console is an explicit opt-in surface).
func (a *App) handleMainTerminal(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	if !a.EnableConsole {
		return nil, fmt.Errorf("server: console is disabled")
	}
	spec := terminal.SpawnSpec{
		Program: loginShell(),
		Dir:     a.StacksDir,
		Kind:    terminal.MainShell,
	}
	t, _, err := a.Registry.GetOrCreate(terminal.ConsoleName, spec)
	if err != nil {
		return nil, err
	}
	buf := t.Join(wsproto.NewTerminalSubscriber(s, t.Name()))
	s.TrackSubscription(t.Name())
	return map[string]any{"name": t.Name(), "buffer": buf}, nil
}

// handleCheckMainTerminal reports whether the console terminal already
// exists, without creating one.
func (a *App) handleCheckMainTerminal(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	_, exists := a.Registry.Get(terminal.ConsoleName)
	return map[string]bool{"exists": exists}, nil
}

// handleInteractiveTerminal opens (or attaches to) a container exec session
// for stack/service (spec §6 "interactiveTerminal(stack, service, shell)").
func (a *App) handleInteractiveTerminal(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var stack, service, shell string
	if err := decodeArg(args, 0, &stack); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, &service); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 2, &shell); err != nil {
		return nil, err
	}
	if shell == "" {
		shell = "sh"
	}

	containerName := fmt.Sprintf("%s-%s-1", stack, service)
	name := terminal.ContainerExecName("", stack, service, 1)
	spec := terminal.SpawnSpec{
		Program: "docker",
		Args:    []string{"exec", "-it", containerName, shell},
		Kind:    terminal.Interactive,
	}
	t, _, err := a.Registry.GetOrCreate(name, spec)
	if err != nil {
		return nil, err
	}
	buf := t.Join(wsproto.NewTerminalSubscriber(s, t.Name()))
	s.TrackSubscription(t.Name())
	return map[string]any{"name": t.Name(), "buffer": buf}, nil
}

// handleTerminalJoin attaches the caller to an existing named terminal and
// replies with its scrollback (spec §6: "terminalJoin(name) -> {buffer}",
// end-to-end scenario 3).
func (a *App) handleTerminalJoin(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var name string
	if err := decodeArg(args, 0, &name); err != nil {
		return nil, err
	}
	t, ok := a.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("server: terminal %q not found", name)
	}
	buf := t.Join(wsproto.NewTerminalSubscriber(s, name))
	s.TrackSubscription(name)
	return map[string]any{"buffer": buf}, nil
}

// handleLeaveCombinedTerminal detaches the caller from a stack's combined
// log terminal (spec §6 "leaveCombinedTerminal(stack)").
func (a *App) handleLeaveCombinedTerminal(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var stack string
	if err := decodeArg(args, 0, &stack); err != nil {
		return nil, err
	}
	name := terminal.CombinedLogName(s.EndpointTag(), stack)
	if t, ok := a.Registry.Get(name); ok {
		t.Leave(s.ID() + ":" + name)
	}
	s.UntrackSubscription(name)
	return map[string]bool{"ok": true}, nil
}

// handleTerminalResize resizes a joined terminal's PTY (spec §6
// "terminalResize(name, rows, cols)"; rows or cols <= 0 is rejected).
func (a *App) handleTerminalResize(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var name string
	var rows, cols int
	if err := decodeArg(args, 0, &name); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, &rows); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 2, &cols); err != nil {
		return nil, err
	}
	t, ok := a.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("server: terminal %q not found", name)
	}
	if err := t.Resize(rows, cols); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func loginShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
