package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Settings is the key/value view of the settings table for one account.
type Settings struct {
	db      *DB
	account string
}

// Settings returns the settings scoped to account.
func (db *DB) Settings(account string) *Settings {
	return &Settings{db: db, account: account}
}

// Get returns the value stored under key, or fallback when unset.
func (s *Settings) Get(key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE account = ? AND key = ?`, s.account, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key. The previous value is replaced in a single
// transaction: readers see either the old or the new value, never neither.
func (s *Settings) Set(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO settings (account, key, value, updated_at, revision)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(account, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			revision = settings.revision + 1`,
		s.account, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return tx.Commit()
}

// Revision returns how many times key has been written, 0 if never.
func (s *Settings) Revision(key string) (int64, error) {
	var rev int64
	err := s.db.QueryRow(`SELECT revision FROM settings WHERE account = ? AND key = ?`, s.account, key).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}

// Accounts lists the accounts that have a value stored under key.
func (db *DB) Accounts(key string) ([]string, error) {
	rows, err := db.Query(`SELECT account FROM settings WHERE key = ? ORDER BY account`, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
