package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Recognised setting keys (spec §3 "Setting").
const (
	SettingJWTSecret              = "jwtSecret"
	SettingPrimaryHostname        = "primaryHostname"
	SettingDisableAuth            = "disableAuth"
	SettingTrustProxy             = "trustProxy"
	SettingServerTimezone         = "serverTimezone"
	SettingCheckUpdate            = "checkUpdate"
	SettingPasswordEncryptionKey  = "passwordEncryptionKey"
)

// GetSetting reads a raw setting value, bypassing the cache.
func (s *Store) GetSetting(key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRow(`SELECT value FROM setting WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get setting %s: %w", key, err)
	}
	return value.String, nil
}

// SetSetting upserts a setting. Unknown keys are preserved (spec §9
// "Configuration as a finite option set": unrecognised keys must round
// trip even though they never take effect).
func (s *Store) SetSetting(key, value, typ string) error {
	if typ == "" {
		typ = "string"
	}
	_, err := s.db.Exec(
		`INSERT INTO setting (key, value, type) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, type = excluded.type`,
		key, value, typ,
	)
	if err != nil {
		return fmt.Errorf("store: set setting %s: %w", key, err)
	}
	return nil
}

// AllSettings returns every persisted key/value pair.
func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM setting`)
	if err != nil {
		return nil, fmt.Errorf("store: list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan setting: %w", err)
		}
		out[k] = v.String
	}
	return out, rows.Err()
}

const settingsCacheTTL = 60 * time.Second

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// SettingsCache is the process-wide, read-mostly 60-second read-through
// cache named in spec §3 and §5. It is one of the three process-wide
// shared structures (spec §9 "Global state").
type SettingsCache struct {
	store *Store

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewSettingsCache builds a cache backed by store.
func NewSettingsCache(store *Store) *SettingsCache {
	return &SettingsCache{store: store, entries: make(map[string]cacheEntry)}
}

// Get returns the value for key, populating the cache on a miss. A
// transient cache miss is silent; the next read repopulates (spec §7).
func (c *SettingsCache) Get(key string) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	value, err := c.store.GetSetting(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(settingsCacheTTL)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops a cached entry immediately after a write, so the next
// Get repopulates rather than serving a stale value for the remainder of
// the TTL.
func (c *SettingsCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Set writes through to the store and invalidates the cached entry.
func (c *SettingsCache) Set(key, value, typ string) error {
	if err := c.store.SetSetting(key, value, typ); err != nil {
		return err
	}
	c.Invalidate(key)
	return nil
}

// Sweep drops expired entries (spec §4.8: "Every 60s: sweep the settings
// cache of expired entries").
func (c *SettingsCache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
