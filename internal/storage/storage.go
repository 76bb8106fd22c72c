// Package storage writes downloaded files to a destination store together
// with the row's custom tag and retention flag.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"
)

// RetentionPeriod is how long a non-permanent artifact is kept.
const RetentionPeriod = 14 * 24 * time.Hour

// MaxTagValueLength is the longest object tag value S3 accepts.
const MaxTagValueLength = 256

// Tag keys attached to every artifact.
const (
	TagCustom    = "custom-tag"
	TagPermanent = "is-permanent"
	TagRunID     = "run-id"
)

var (
	ErrInvalidName = errors.New("invalid artifact name")
	ErrWriteFailed = errors.New("write failed")
)

// reservedNames cannot be used as file names on Windows hosts.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// ValidTagValue reports whether v can be stored as an S3 object tag value:
// letters, digits, spaces and + - = . _ : / @, at most MaxTagValueLength
// characters.
func ValidTagValue(v string) bool {
	if len([]rune(v)) > MaxTagValueLength {
		return false
	}
	for _, r := range v {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		case strings.ContainsRune("+-=._:/@", r):
		default:
			return false
		}
	}
	return true
}

// Options carries the per-row write settings.
type Options struct {
	Tag       string
	Permanent bool
	RunID     string
}

// Tags returns the tag set written alongside an artifact.
func (o Options) Tags() map[string]string {
	tags := map[string]string{TagPermanent: fmt.Sprintf("%t", o.Permanent)}
	if o.Tag != "" {
		tags[TagCustom] = o.Tag
	}
	if o.RunID != "" {
		tags[TagRunID] = o.RunID
	}
	return tags
}

// ExpiresAt returns the expiry of an artifact written at now, or the zero
// time for permanent artifacts.
func (o Options) ExpiresAt(now time.Time) time.Time {
	if o.Permanent {
		return time.Time{}
	}
	return now.Add(RetentionPeriod).UTC()
}

// Object is a single file to store.
type Object struct {
	// Name is the destination name, see ObjectName.
	Name string
	// Path is the remote path the content came from.
	Path         string
	Size         int64
	LastModified time.Time
	Body         io.Reader
}

// Artifact references a stored object.
type Artifact struct {
	Location   string            `json:"location"`
	Name       string            `json:"name"`
	SourcePath string            `json:"source_path"`
	Size       int64             `json:"size"`
	Tags       map[string]string `json:"tags"`
	Permanent  bool              `json:"is_permanent"`
	ExpiresAt  time.Time         `json:"expires_at"`
	WrittenAt  time.Time         `json:"written_at"`
}

// Writer stores objects.
type Writer interface {
	Write(ctx context.Context, obj Object, opts Options) (Artifact, error)
}

// ObjectName returns the destination name for a remote path. Files are
// stored flat under their base name; characters that are invalid on common
// file systems are replaced with '_'.
func ObjectName(remotePath string) (string, error) {
	if strings.Contains(remotePath, "\x00") {
		return "", fmt.Errorf("%w: null bytes not allowed in %q", ErrInvalidName, remotePath)
	}
	name := path.Base(strings.ReplaceAll(remotePath, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidName, remotePath)
	}
	if len(name) > 255 {
		return "", fmt.Errorf("%w: %q is longer than 255 characters", ErrInvalidName, name)
	}

	upper := strings.ToUpper(name)
	if i := strings.IndexByte(upper, '.'); i >= 0 {
		upper = upper[:i]
	}
	if reservedNames[upper] {
		return "", fmt.Errorf("%w: %q is a reserved name", ErrInvalidName, name)
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name), nil
}
