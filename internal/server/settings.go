package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aureuma/dockpilot/internal/auth"
	"github.com/aureuma/dockpilot/internal/store"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

// settingsKeys is the finite option set spec §9 describes, minus the two
// secrets (jwtSecret, passwordEncryptionKey), which getSettings never
// returns. Every key listed here round trips through
// getSettings/setSettings even though most have no runtime effect beyond
// what's wired below.
var settingsKeys = []string{
	store.SettingPrimaryHostname,
	store.SettingDisableAuth,
	store.SettingTrustProxy,
	store.SettingServerTimezone,
	store.SettingCheckUpdate,
}

func (a *App) handleGetSettings(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	out := make(map[string]string, len(settingsKeys))
	for _, k := range settingsKeys {
		v, err := a.SettingsCache.Get(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// handleSetSettings applies a settings patch (spec §6 "setSettings(data,
// currentPassword?)"). Turning disableAuth on (false -> true) removes the
// password check from every future login, so that one transition requires
// re-proving the current password (spec §4.5); every other key applies
// unconditionally.
func (a *App) handleSetSettings(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var patch map[string]string
	if err := decodeArg(args, 0, &patch); err != nil {
		return nil, err
	}
	var currentPassword string
	if len(args) > 1 {
		if err := decodeArg(args, 1, &currentPassword); err != nil {
			return nil, err
		}
	}

	if next, changing := patch[store.SettingDisableAuth]; changing && next == "true" {
		prev, _ := a.SettingsCache.Get(store.SettingDisableAuth)
		if prev != "true" {
			u, err := a.Store.GetUserByID(s.UserID())
			if err != nil {
				return nil, fmt.Errorf("server: user not found")
			}
			if currentPassword == "" || !auth.CheckPassword(u.Password, currentPassword) {
				return nil, fmt.Errorf("server: current password required to disable authentication")
			}
		}
	}

	for k, v := range patch {
		if err := a.SettingsCache.Set(k, v, "string"); err != nil {
			return nil, err
		}
	}
	return map[string]bool{"ok": true}, nil
}

// handleComposerize is a best-effort docker-run-to-compose-YAML converter
// (spec §6 lists composerize as a client event; the teacher ecosystem has
// no bundled parser for docker-run invocation strings, so this is a direct,
// minimal translation of the common `docker run [flags] image [cmd...]`
// shape rather than a full flag-compatibility shim).
func (a *App) handleComposerize(ctx context.Context, s *wsproto.Session, args []json.RawMessage) (any, error) {
	var dockerRunCommand string
	if err := decodeArg(args, 0, &dockerRunCommand); err != nil {
		return nil, err
	}
	return map[string]string{"composeYAML": composerize(dockerRunCommand)}, nil
}

func composerize(cmd string) string {
	fields := strings.Fields(cmd)
	var (
		image   string
		name    = "app"
		ports   []string
		volumes []string
		envs    []string
	)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "docker", "run", "-d", "--rm", "-it", "-i", "-t":
			continue
		case "--name":
			if i+1 < len(fields) {
				name = fields[i+1]
				i++
			}
		case "-p", "--publish":
			if i+1 < len(fields) {
				ports = append(ports, fields[i+1])
				i++
			}
		case "-v", "--volume":
			if i+1 < len(fields) {
				volumes = append(volumes, fields[i+1])
				i++
			}
		case "-e", "--env":
			if i+1 < len(fields) {
				envs = append(envs, fields[i+1])
				i++
			}
		default:
			if image == "" && !strings.HasPrefix(fields[i], "-") {
				image = fields[i]
			}
		}
	}

	var b strings.Builder
	b.WriteString("services:\n")
	b.WriteString("  " + name + ":\n")
	b.WriteString("    image: " + image + "\n")
	if len(ports) > 0 {
		b.WriteString("    ports:\n")
		for _, p := range ports {
			b.WriteString("      - \"" + p + "\"\n")
		}
	}
	if len(volumes) > 0 {
		b.WriteString("    volumes:\n")
		for _, v := range volumes {
			b.WriteString("      - \"" + v + "\"\n")
		}
	}
	if len(envs) > 0 {
		b.WriteString("    environment:\n")
		for _, e := range envs {
			b.WriteString("      - \"" + e + "\"\n")
		}
	}
	b.WriteString("    restart: unless-stopped\n")
	return b.String()
}
