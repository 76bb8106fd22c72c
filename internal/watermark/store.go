package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/onedrive-extractor/internal/logger"
)

var (
	// ErrNotFound is returned by a Store when a row has no watermark yet.
	ErrNotFound = errors.New("watermark not found")
	// ErrCorrupt is returned when persisted state cannot be decoded.
	ErrCorrupt = errors.New("watermark state corrupt")
)

// State is the persisted watermark of one row.
type State struct {
	LastModified time.Time `json:"last_modified"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists watermark state keyed by row.
type Store interface {
	Get(ctx context.Context, key string) (State, error)
	Put(ctx context.Context, key string, state State) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backends accepted by Open.
const (
	BackendBolt = "bolt"
	BackendFile = "file"
)

// Open returns the store for backend at path. An empty backend means bolt.
// log receives recovery warnings and may be nil.
func Open(backend, path string, log logger.Logger) (Store, error) {
	switch backend {
	case "", BackendBolt:
		store, err := OpenBoltStore(path, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendFile:
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
