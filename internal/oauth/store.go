// Package oauth manages OAuth 2.0 access tokens for resolved identities:
// persistence of refreshed token state across restarts, and single-flight
// refresh so concurrent requests sharing an identity trigger at most one
// token endpoint call.
package oauth

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// Token state is sensitive, so the file is owner-only.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("oauth_tokens")

// TokenState is the persisted token material for one identity, keyed by the
// identity fingerprint. The fingerprint excludes these fields, so a refresh
// updates the state in place without changing its key.
type TokenState struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is a Unix timestamp in seconds; zero means unknown.
	ExpiresAt int64 `json:"expires_at"`
}

// Store persists refreshed OAuth token state in a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the token state database at path. The parent
// directory is created with owner-only permissions.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the token state for a fingerprint, or nil if none is stored.
func (s *Store) Get(fingerprint string) (*TokenState, error) {
	var ts *TokenState

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(fingerprint))
		if v == nil {
			return nil
		}

		ts = &TokenState{}

		return json.Unmarshal(v, ts)
	})

	return ts, err
}

// Put persists the token state for a fingerprint, replacing any previous
// state.
func (s *Store) Put(fingerprint string, ts TokenState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ts)
		if err != nil {
			return err
		}

		return tx.Bucket(tokensBucket).Put([]byte(fingerprint), data)
	})
}

// Delete removes the token state for a fingerprint.
func (s *Store) Delete(fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(fingerprint))
	})
}
