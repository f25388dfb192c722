package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/aureuma/dockpilot/internal/cryptobox"
)

// Agent is the persisted federation peer record (spec §3, §4.9). Password
// is always held in memory as plaintext; on-disk it is enc:-wrapped.
type Agent struct {
	ID       int64
	URL      string
	Username string
	Password string
	Active   bool
}

// CreateAgent inserts a new agent row, encrypting the password with key.
func (s *Store) CreateAgent(key []byte, a Agent) (int64, error) {
	sealed, err := cryptobox.Seal(key, a.Password)
	if err != nil {
		return 0, fmt.Errorf("store: seal agent password: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO agent (url, username, password, active) VALUES (?, ?, ?, ?)`,
		a.URL, a.Username, sealed, boolToInt(a.Active),
	)
	if err != nil {
		return 0, fmt.Errorf("store: create agent: %w", err)
	}
	return res.LastInsertId()
}

// RemoveAgent deletes the agent row for url.
func (s *Store) RemoveAgent(url string) error {
	_, err := s.db.Exec(`DELETE FROM agent WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("store: remove agent: %w", err)
	}
	return nil
}

// ListAgents returns every agent row with its password decrypted to
// plaintext. A row whose stored value lacks the enc: prefix is treated as
// legacy plaintext, re-encrypted with key, and rewritten in place (spec
// §4.9) before being returned.
func (s *Store) ListAgents(key []byte) ([]Agent, error) {
	rows, err := s.db.Query(`SELECT id, url, username, password, active FROM agent`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var stored string
		var active int
		if err := rows.Scan(&a.ID, &a.URL, &a.Username, &stored, &active); err != nil {
			return nil, fmt.Errorf("store: scan agent: %w", err)
		}
		a.Active = active != 0

		if cryptobox.IsEncrypted(stored) {
			plain, err := cryptobox.Open(key, stored)
			if err != nil {
				return nil, fmt.Errorf("store: decrypt agent %s password: %w", a.URL, err)
			}
			a.Password = plain
		} else {
			a.Password = stored
			if err := s.reencryptAgentPassword(key, a.ID, stored); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) reencryptAgentPassword(key []byte, id int64, plaintext string) error {
	sealed, err := cryptobox.Seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("store: reencrypt agent password: %w", err)
	}
	_, err = s.db.Exec(`UPDATE agent SET password = ? WHERE id = ?`, sealed, id)
	if err != nil {
		return fmt.Errorf("store: rewrite agent password: %w", err)
	}
	return nil
}

// GetAgentByURL returns the agent row for url with its password decrypted
// to plaintext, or ErrNotFound. Unlike ListAgents it does not rewrite a
// legacy plaintext row in encrypted form.
func (s *Store) GetAgentByURL(key []byte, url string) (Agent, error) {
	var a Agent
	var stored string
	var active int
	err := s.db.QueryRow(`SELECT id, url, username, password, active FROM agent WHERE url = ?`, url).
		Scan(&a.ID, &a.URL, &a.Username, &stored, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("store: get agent: %w", err)
	}
	a.Active = active != 0
	if cryptobox.IsEncrypted(stored) {
		plain, err := cryptobox.Open(key, stored)
		if err != nil {
			return Agent{}, fmt.Errorf("store: decrypt agent password: %w", err)
		}
		a.Password = plain
	} else {
		a.Password = stored
	}
	return a, nil
}
