package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestSuffix is appended to a file name to form its manifest name.
const ManifestSuffix = ".manifest"

// LocalWriter writes files into a directory. Each file gets a JSON manifest
// next to it carrying the tags and the retention flag.
type LocalWriter struct {
	dir string
	now func() time.Time
}

// NewLocalWriter returns a writer storing files in dir, creating it when
// needed.
func NewLocalWriter(dir string) (*LocalWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory is empty", ErrWriteFailed)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %q: %v", ErrWriteFailed, dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating output directory: %v", ErrWriteFailed, err)
	}
	return &LocalWriter{dir: abs, now: time.Now}, nil
}

// Dir returns the absolute output directory.
func (w *LocalWriter) Dir() string {
	return w.dir
}

func (w *LocalWriter) Write(ctx context.Context, obj Object, opts Options) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if obj.Name == "" || obj.Name != filepath.Base(obj.Name) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidName, obj.Name)
	}

	target := filepath.Join(w.dir, obj.Name)
	size, err := writeAtomic(target, obj.Body)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrWriteFailed, obj.Name, err)
	}

	now := w.now().UTC()
	artifact := Artifact{
		Location:   target,
		Name:       obj.Name,
		SourcePath: obj.Path,
		Size:       size,
		Tags:       opts.Tags(),
		Permanent:  opts.Permanent,
		ExpiresAt:  opts.ExpiresAt(now),
		WrittenAt:  now,
	}

	manifest, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: encoding manifest: %v", ErrWriteFailed, err)
	}
	if err := writeFileAtomic(target+ManifestSuffix, manifest); err != nil {
		return Artifact{}, fmt.Errorf("%w: %s manifest: %v", ErrWriteFailed, obj.Name, err)
	}
	return artifact, nil
}

// ReadManifest loads the manifest written for the file at path.
func ReadManifest(path string) (Artifact, error) {
	data, err := os.ReadFile(path + ManifestSuffix)
	if err != nil {
		return Artifact{}, err
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("decoding manifest %s: %w", path+ManifestSuffix, err)
	}
	return artifact, nil
}

// writeAtomic streams r into a temporary file beside target and renames it
// into place, so readers never observe a partially written file.
func writeAtomic(target string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return n, nil
}

func writeFileAtomic(target string, data []byte) error {
	_, err := writeAtomic(target, bytes.NewReader(data))
	return err
}
