package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tonimelisma/onedrive-extractor/internal/logger"
)

// BucketName is the bbolt bucket holding one entry per row key.
const BucketName = "watermarks"

// BoltStore keeps watermarks in a bbolt database file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the database at path. The open times out
// after a second when another process holds the file. A file bbolt rejects
// as corrupt is renamed to path + ".corrupt-<unix time>" and replaced by an
// empty database, so every row starts without a watermark.
func OpenBoltStore(path string, log logger.Logger) (*BoltStore, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := openBolt(path)
	if isCorruptDatabase(err) {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		log.Warn("State database is corrupt, starting without watermarks", "path", path, "moved_to", aside, "error", err)
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("moving corrupt state database %s aside: %w", path, rerr)
		}
		db, err = openBolt(path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening state database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", BucketName, err)
	}

	return &BoltStore{db: db}, nil
}

func openBolt(path string) (*bbolt.DB, error) {
	return bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
}

// isCorruptDatabase reports whether err means the file is not a usable bbolt
// database. Lock timeouts and I/O errors are not corruption.
func isCorruptDatabase(err error) bool {
	return errors.Is(err, bbolt.ErrInvalid) ||
		errors.Is(err, bbolt.ErrChecksum) ||
		errors.Is(err, bbolt.ErrVersionMismatch)
}

func (s *BoltStore) Get(ctx context.Context, key string) (State, error) {
	var state State
	if err := ctx.Err(); err != nil {
		return state, err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketName)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &state); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil
	})
	return state, err
}

func (s *BoltStore) Put(ctx context.Context, key string, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding watermark: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketName)).Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketName)).Delete([]byte(key))
	})
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
