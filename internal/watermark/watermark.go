// Package watermark tracks, per configuration row, the last-modified time of
// the newest file downloaded by a previous run. With "new files only" enabled
// a run skips every file that is not strictly newer than the watermark.
package watermark

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/onedrive-extractor/internal/logger"
)

// ShouldInclude decides whether a file with the given last-modified time is
// downloaded. Without newFilesOnly every file is. Otherwise the file must be
// strictly newer than the watermark; a zero watermark lets everything through.
func ShouldInclude(lastModified, watermark time.Time, newFilesOnly bool) bool {
	if !newFilesOnly {
		return true
	}
	return lastModified.After(watermark)
}

// RowKey derives a stable watermark key from the parts identifying a row,
// such as the account and the file mask.
func RowKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(hash[:16])
}

// Tracker loads and advances the watermark of a single row.
type Tracker struct {
	store  Store
	key    string
	logger logger.Logger
}

// NewTracker creates a tracker for key backed by store.
func NewTracker(store Store, key string, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Tracker{store: store, key: key, logger: log}
}

// Key returns the row key the tracker reads and writes.
func (t *Tracker) Key() string {
	return t.key
}

// Load returns the stored watermark, or the zero time when the row has none.
// Unreadable or corrupt state is logged and treated as no watermark so the
// run downloads everything instead of failing.
func (t *Tracker) Load(ctx context.Context) time.Time {
	state, err := t.store.Get(ctx, t.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			t.logger.Info("No watermark stored, all matching files will be downloaded", "row", t.key)
		} else {
			t.logger.Warn("Could not read watermark, all matching files will be downloaded", "row", t.key, "error", err)
		}
		return time.Time{}
	}
	t.logger.Debug("Loaded watermark", "row", t.key, "last_modified", state.LastModified)
	return state.LastModified
}

// Update records maxObserved, the newest last-modified time among files
// downloaded in this run. A zero value means nothing was downloaded and
// leaves the stored watermark untouched, as does a value that is not newer
// than it. The watermark in effect after the call is returned.
func (t *Tracker) Update(ctx context.Context, maxObserved time.Time) (time.Time, error) {
	current := t.Load(ctx)
	if maxObserved.IsZero() || !maxObserved.After(current) {
		t.logger.Debug("Watermark unchanged", "row", t.key, "last_modified", current)
		return current, nil
	}

	state := State{LastModified: maxObserved.UTC(), UpdatedAt: time.Now().UTC()}
	if err := t.store.Put(ctx, t.key, state); err != nil {
		return current, fmt.Errorf("saving watermark for row %s: %w", t.key, err)
	}
	t.logger.Info("Watermark advanced", "row", t.key, "from", current, "to", state.LastModified)
	return state.LastModified, nil
}

// Reset forgets the row's watermark; the next incremental run downloads
// every matching file again.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.store.Delete(ctx, t.key); err != nil {
		return fmt.Errorf("resetting watermark for row %s: %w", t.key, err)
	}
	return nil
}
