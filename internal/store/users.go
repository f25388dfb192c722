package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// User is the identity record (spec §3).
type User struct {
	ID             int64
	Username       string
	Password       string // bcrypt hash
	Active         bool
	Timezone       string
	TwoFASecret    string
	TwoFAEnabled   bool
	TwoFALastToken string
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(u User) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO user (username, password, active, timezone, twofa_secret, twofa_status, twofa_last_token)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Password, boolToInt(u.Active), u.Timezone, u.TwoFASecret, boolToInt(u.TwoFAEnabled), u.TwoFALastToken,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByUsername looks up a user case-insensitively (NOCASE collation).
func (s *Store) GetUserByUsername(username string) (User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, password, active, timezone, twofa_secret, twofa_status, twofa_last_token
		 FROM user WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID looks up a user by primary key.
func (s *Store) GetUserByID(id int64) (User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, password, active, timezone, twofa_secret, twofa_status, twofa_last_token
		 FROM user WHERE id = ?`, id)
	return scanUser(row)
}

// FirstUser returns the first-created user, used for disableAuth
// auto-login (spec §4.5) and for first-time setup checks.
func (s *Store) FirstUser() (User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, password, active, timezone, twofa_secret, twofa_status, twofa_last_token
		 FROM user ORDER BY id ASC LIMIT 1`)
	return scanUser(row)
}

// UpdatePassword replaces a user's bcrypt hash.
func (s *Store) UpdatePassword(userID int64, bcryptHash string) error {
	_, err := s.db.Exec(`UPDATE user SET password = ? WHERE id = ?`, bcryptHash, userID)
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	return nil
}

// UpdateTwoFALastToken records the last-seen 2FA token for replay protection.
func (s *Store) UpdateTwoFALastToken(userID int64, token string) error {
	_, err := s.db.Exec(`UPDATE user SET twofa_last_token = ? WHERE id = ?`, token, userID)
	if err != nil {
		return fmt.Errorf("store: update 2fa token: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var active, twofaStatus int
	err := row.Scan(&u.ID, &u.Username, &u.Password, &active, &u.Timezone, &u.TwoFASecret, &twofaStatus, &u.TwoFALastToken)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: scan user: %w", err)
	}
	u.Active = active != 0
	u.TwoFAEnabled = twofaStatus != 0
	return u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
