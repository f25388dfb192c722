// Package config loads the CLI surface described in spec §6/§8: flags with
// an environment-variable mirror, in the teacher's env(key, def) idiom.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the resolved set of flags/env for one server process.
type Config struct {
	Port          int
	Hostname      string
	DataDir       string
	StacksDir     string
	EnableConsole bool
}

const envPrefix = "DOCKPILOT_"

// Load parses flags from args, with environment variables as defaults
// (DOCKPILOT_PORT, DOCKPILOT_HOSTNAME, DOCKPILOT_DATA_DIR,
// DOCKPILOT_STACKS_DIR, DOCKPILOT_ENABLE_CONSOLE).
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("dockpilotd", flag.ContinueOnError)

	defaultDataDir := filepath.Join(defaultBaseDir(), "dockpilot")
	defaultStacksDir := "/opt/stacks"
	if strings.EqualFold(os.Getenv("OS"), "windows_nt") {
		defaultStacksDir = "./stacks"
	}

	port := fs.Int("port", envInt("PORT", 5001), "listen port")
	hostname := fs.String("hostname", envStr("HOSTNAME", ""), "bind address (empty = all interfaces)")
	dataDir := fs.String("data-dir", envStr("DATA_DIR", defaultDataDir), "directory for the database and secrets")
	stacksDir := fs.String("stacks-dir", envStr("STACKS_DIR", defaultStacksDir), "directory containing stack subdirectories")
	enableConsole := fs.Bool("enable-console", envBool("ENABLE_CONSOLE", false), "allow the global console (MainShell) terminal kind")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg := Config{
		Port:          *port,
		Hostname:      *hostname,
		DataDir:       *dataDir,
		StacksDir:     *stacksDir,
		EnableConsole: *enableConsole,
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	return cfg, nil
}

func defaultBaseDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

func envStr(key, def string) string {
	if v := os.Getenv(envPrefix + key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
