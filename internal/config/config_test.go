package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5001 {
		t.Fatalf("expected default port 5001, got %d", cfg.Port)
	}
	if cfg.EnableConsole {
		t.Fatalf("expected console disabled by default")
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DOCKPILOT_PORT", "9000")
	cfg, err := Load([]string{"--port", "6100"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 6100 {
		t.Fatalf("expected flag to override env, got port %d", cfg.Port)
	}
}

func TestLoadEnvAppliesWhenFlagAbsent(t *testing.T) {
	t.Setenv("DOCKPILOT_STACKS_DIR", "/srv/stacks")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StacksDir != "/srv/stacks" {
		t.Fatalf("expected env stacks dir, got %q", cfg.StacksDir)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	if _, err := Load([]string{"--port", "0"}); err == nil {
		t.Fatalf("expected invalid port to be rejected")
	}
}
