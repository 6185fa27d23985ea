package tokenstore

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	keyTokens    = []byte("tokens")
	keyFirstSeen = []byte("first_launch_seen")
	metaBucket   = []byte("_meta")
)

// BoltStore persists the session in a bbolt database, one bucket per API host.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore returns a store using db, scoped to key (the API host).
func NewBoltStore(db *bbolt.DB, key string) *BoltStore {
	return &BoltStore{db: db, bucket: []byte(key)}
}

// NewBoltStoreFromFile opens a bbolt database at path.
func NewBoltStoreFromFile(path, key string, options *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltStore(db, key), nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get() (*AuthTokens, error) {
	var tokens *AuthTokens
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		raw := b.Get(keyTokens)
		if raw == nil {
			return nil
		}
		tokens = &AuthTokens{}
		return json.Unmarshal(raw, tokens)
	})
	if err != nil {
		return nil, fmt.Errorf("reading tokens: %w", err)
	}
	return tokens, nil
}

func (s *BoltStore) Put(tokens AuthTokens) error {
	if err := validate(tokens); err != nil {
		return err
	}
	raw, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(keyTokens, raw)
	})
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete(keyTokens)
	})
}

func (s *BoltStore) IsFirstLaunch() (bool, error) {
	seen := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(metaBucket); b != nil {
			seen = b.Get(keyFirstSeen) != nil
		}
		return nil
	})
	return !seen, err
}

func (s *BoltStore) MarkFirstLaunchSeen() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return b.Put(keyFirstSeen, []byte{1})
	})
}
