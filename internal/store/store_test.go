package store

import (
	"path/filepath"
	"testing"

	"github.com/aureuma/dockpilot/internal/cryptobox"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dockpilot.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetUserByUsername(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateUser(User{Username: "admin", Password: "bcrypt-hash", Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected nonzero id")
	}

	u, err := s.GetUserByUsername("ADMIN") // NOCASE collation
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.Username != "admin" {
		t.Fatalf("expected username admin, got %q", u.Username)
	}
}

func TestSettingsCacheRepopulatesAfterWrite(t *testing.T) {
	s := openTestStore(t)
	cache := NewSettingsCache(s)

	if _, err := cache.Get(SettingPrimaryHostname); err != nil {
		t.Fatalf("Get on empty setting: %v", err)
	}
	if err := cache.Set(SettingPrimaryHostname, "dockpilot.example.com", "string"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cache.Get(SettingPrimaryHostname)
	if err != nil {
		t.Fatalf("Get after Set: %v", err)
	}
	if got != "dockpilot.example.com" {
		t.Fatalf("expected cache to reflect the write, got %q", got)
	}
}

func TestSettingsCacheSweepDropsExpired(t *testing.T) {
	s := openTestStore(t)
	cache := NewSettingsCache(s)
	_ = cache.Set(SettingCheckUpdate, "true", "bool")
	if _, err := cache.Get(SettingCheckUpdate); err != nil {
		t.Fatalf("Get: %v", err)
	}

	cache.mu.Lock()
	for k, e := range cache.entries {
		e.expiresAt = e.expiresAt.Add(-2 * settingsCacheTTL)
		cache.entries[k] = e
	}
	cache.mu.Unlock()

	cache.Sweep()
	cache.mu.RLock()
	_, stillPresent := cache.entries[SettingCheckUpdate]
	cache.mu.RUnlock()
	if stillPresent {
		t.Fatalf("expected expired entry to be swept")
	}
}

func TestAgentPasswordRoundTripsPlaintextInMemory(t *testing.T) {
	s := openTestStore(t)
	key, err := cryptobox.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	if _, err := s.CreateAgent(key, Agent{URL: "node-2:5001", Username: "admin", Password: "s3cret", Active: true}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	agents, err := s.ListAgents(key)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	if agents[0].Password != "s3cret" {
		t.Fatalf("expected in-memory password %q, got %q", "s3cret", agents[0].Password)
	}

	// spec §8 scenario 6: the raw column begins with enc: on disk.
	var raw string
	if err := s.db.QueryRow(`SELECT password FROM agent WHERE url = ?`, "node-2:5001").Scan(&raw); err != nil {
		t.Fatalf("query raw password: %v", err)
	}
	if len(raw) < 4 || raw[:4] != "enc:" {
		t.Fatalf("expected stored password to begin with enc:, got %q", raw)
	}
}

func TestAddThenRemoveAgentReturnsToPreAddState(t *testing.T) {
	s := openTestStore(t)
	key, _ := cryptobox.NewKey()

	before, _ := s.ListAgents(key)
	if _, err := s.CreateAgent(key, Agent{URL: "node-3:5001", Username: "u", Password: "p", Active: true}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := s.RemoveAgent("node-3:5001"); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	after, _ := s.ListAgents(key)
	if len(after) != len(before) {
		t.Fatalf("expected agent set to return to pre-add size %d, got %d", len(before), len(after))
	}
}
