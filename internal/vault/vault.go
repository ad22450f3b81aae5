// Package vault keeps the cached unlock codes on local disk. Codes are stored
// as bcrypt hashes; the newest write by timestamp wins.
package vault

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	KeyCalculator = "calc_password"
	KeyUserA      = "user_a_password"
)

var ErrEmptyCode = errors.New("code must not be empty")

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	key        TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type secret struct {
	Key       string `db:"key"`
	Hash      string `db:"hash"`
	UpdatedAt int64  `db:"updated_at"`
}

type Vault struct {
	db       *sqlx.DB
	defaults map[string]string

	// Cost is the bcrypt cost of new hashes.
	Cost int
}

// Open opens (or creates) the sqlite file at path. defaults holds the code
// each key falls back to while it was never set.
func Open(path string, defaults map[string]string) (*Vault, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open vault")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate vault")
	}
	return &Vault{db: db, defaults: defaults, Cost: bcrypt.DefaultCost}, nil
}

func (v *Vault) Close() error {
	return v.db.Close()
}

// Set stores code under key unless the stored value is at least as new as at.
// It reports whether a write happened.
func (v *Vault) Set(ctx context.Context, key, code string, at time.Time) (bool, error) {
	if code == "" {
		return false, ErrEmptyCode
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), v.Cost)
	if err != nil {
		return false, errors.Wrap(err, "hash code")
	}

	res, err := v.db.ExecContext(ctx, `
		INSERT INTO secrets (key, hash, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET hash = excluded.hash, updated_at = excluded.updated_at
		WHERE excluded.updated_at > secrets.updated_at`,
		key, string(hash), at.UnixNano())
	if err != nil {
		return false, errors.Wrapf(err, "set %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "set %s", key)
	}
	return n > 0, nil
}

// Verify reports whether candidate matches the code stored under key, or the
// default code when the key was never set.
func (v *Vault) Verify(ctx context.Context, key, candidate string) (bool, error) {
	var s secret
	err := v.db.GetContext(ctx, &s, `SELECT key, hash, updated_at FROM secrets WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		def, ok := v.defaults[key]
		if !ok || def == "" {
			return false, nil
		}
		return subtle.ConstantTimeCompare([]byte(def), []byte(candidate)) == 1, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s", key)
	}

	err = bcrypt.CompareHashAndPassword([]byte(s.Hash), []byte(candidate))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "compare %s", key)
	}
	return true, nil
}

// UpdatedAt returns when key was last set, or the zero time.
func (v *Vault) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var s secret
	err := v.db.GetContext(ctx, &s, `SELECT key, hash, updated_at FROM secrets WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "read %s", key)
	}
	return time.Unix(0, s.UpdatedAt), nil
}
