package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileData is the on-disk layout. One file can hold sessions for several API
// hosts (production, staging, a local fake).
type fileData struct {
	FirstLaunchSeen bool                   `json:"first_launch_seen"`
	Sessions        map[string]*AuthTokens `json:"sessions"` // key = API host
}

// FileStore persists the session for one API host in a JSON file. Writes go
// through a lock file and an atomic rename so that concurrent processes never
// observe a half-written file.
type FileStore struct {
	path string
	key  string

	mu sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path, scoped to key (the API host).
func NewFileStore(path, key string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("token file path cannot be empty")
	}
	if key == "" {
		return nil, errors.New("token store key cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	return &FileStore{path: path, key: key}, nil
}

// Path returns the token file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get() (*AuthTokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	t, ok := data.Sessions[s.key]
	if !ok || t == nil {
		return nil, nil
	}
	return t, nil
}

func (s *FileStore) Put(tokens AuthTokens) error {
	if err := validate(tokens); err != nil {
		return err
	}
	return s.update(func(d *fileData) {
		d.Sessions[s.key] = &tokens
	})
}

func (s *FileStore) Clear() error {
	return s.update(func(d *fileData) {
		delete(d.Sessions, s.key)
	})
}

func (s *FileStore) IsFirstLaunch() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.read()
	if err != nil {
		return false, err
	}
	return !data.FirstLaunchSeen, nil
}

func (s *FileStore) MarkFirstLaunchSeen() error {
	return s.update(func(d *fileData) {
		d.FirstLaunchSeen = true
	})
}

// errCorruptFile marks token file content that is not valid JSON.
var errCorruptFile = errors.New("corrupt token file")

// read loads the file. A missing file is an empty store.
func (s *FileStore) read() (*fileData, error) {
	data := &fileData{Sessions: make(map[string]*AuthTokens)}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptFile, err)
	}
	if data.Sessions == nil {
		data.Sessions = make(map[string]*AuthTokens)
	}
	return data, nil
}

// update applies fn to the current file content and writes it back, holding
// both the in-process mutex and the cross-process lock file.
func (s *FileStore) update(fn func(*fileData)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := acquireFileLock(s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		_ = lock.release()
	}()

	data, err := s.read()
	switch {
	case errors.Is(err, errCorruptFile):
		// Unparseable content is replaced so the store can recover.
		data = &fileData{Sessions: make(map[string]*AuthTokens)}
	case err != nil:
		return err
	}
	fn(data)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				rmErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
