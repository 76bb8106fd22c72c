package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileStore keeps all watermarks in a single JSON document. Every operation
// takes an exclusive lock on a sibling ".lock" file so concurrent runs of
// different rows sharing the file do not lose updates.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path. The file is
// created on the first Put.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(ctx context.Context, key string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	unlock, err := s.lock()
	if err != nil {
		return State{}, err
	}
	defer unlock()

	states, err := s.read()
	if err != nil {
		return State{}, err
	}
	state, ok := states[key]
	if !ok {
		return State{}, ErrNotFound
	}
	return state, nil
}

func (s *FileStore) Put(ctx context.Context, key string, state State) error {
	return s.modify(ctx, func(states map[string]State) {
		states[key] = state
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.modify(ctx, func(states map[string]State) {
		delete(states, key)
	})
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) modify(ctx context.Context, fn func(map[string]State)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	states, err := s.read()
	if errors.Is(err, ErrCorrupt) {
		// A corrupt file is replaced rather than blocking every later run.
		states = map[string]State{}
	} else if err != nil {
		return err
	}
	fn(states)
	return s.write(states)
}

func (s *FileStore) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("could not acquire state file lock: %w", err)
	}
	return func() { _ = lock.Unlock() }, nil
}

func (s *FileStore) read() (map[string]State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]State{}, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	states := map[string]State{}
	if len(data) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	// A "null" document decodes into a nil map.
	if states == nil {
		states = map[string]State{}
	}
	return states, nil
}

func (s *FileStore) write(states map[string]State) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
