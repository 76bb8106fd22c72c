// Package pipeline selects remote files for a configuration row and moves
// them to the destination store: list, match the mask, filter by watermark,
// download, write, then advance the watermark.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/onedrive-extractor/internal/logger"
	"github.com/tonimelisma/onedrive-extractor/internal/mask"
	"github.com/tonimelisma/onedrive-extractor/internal/storage"
	"github.com/tonimelisma/onedrive-extractor/internal/watermark"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// ErrPartialRun is returned when at least one accepted file could not be
// downloaded or written. The watermark is not advanced in that case.
var ErrPartialRun = errors.New("some files could not be transferred")

// Lister enumerates the files below root. descend is asked before a folder
// is walked; nil walks everything.
type Lister interface {
	ListFiles(ctx context.Context, root string, descend func(dir string) bool) ([]onedrive.RemoteFile, error)
}

// Downloader opens the content of a remote file.
type Downloader interface {
	Download(ctx context.Context, file onedrive.RemoteFile) (io.ReadCloser, error)
}

// Progress receives transfer progress. Done may be called from several
// goroutines at once.
type Progress interface {
	Start(total int)
	Done(file onedrive.RemoteFile, err error)
	Finish()
}

// Row is the per-row selection and destination settings.
type Row struct {
	// Key identifies the row's watermark.
	Key          string
	FilePath     string
	NewFilesOnly bool
	CustomTag    string
	Permanent    bool
	// MaxConcurrentDownloads bounds parallel transfers; values below 1 mean 1.
	MaxConcurrentDownloads int
	// DryRun selects files without downloading them or touching the watermark.
	DryRun bool
}

// FileError is the failure of a single file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Result summarizes a run.
type Result struct {
	RunID string

	Listed  int
	Matched int
	// Stale counts matched files rejected by the watermark.
	Stale int
	// Superseded counts files skipped because a newer file in the same run
	// has the same destination name. They do not move the watermark.
	Superseded int
	Downloaded int
	Failed     int

	Selected  []onedrive.RemoteFile
	Artifacts []storage.Artifact
	Failures  []*FileError

	WatermarkBefore time.Time
	WatermarkAfter  time.Time
	Advanced        bool
}

// Pipeline runs rows against one drive and one destination.
type Pipeline struct {
	lister     Lister
	downloader Downloader
	writer     storage.Writer
	store      watermark.Store
	logger     logger.Logger
	progress   Progress
	newRunID   func() string
}

// New creates a pipeline. A nil log discards log output.
func New(lister Lister, downloader Downloader, writer storage.Writer, store watermark.Store, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Pipeline{
		lister:     lister,
		downloader: downloader,
		writer:     writer,
		store:      store,
		logger:     log,
		progress:   noopProgress{},
		newRunID:   uuid.NewString,
	}
}

// WithProgress sets the progress reporter used by later runs.
func (p *Pipeline) WithProgress(progress Progress) *Pipeline {
	if progress == nil {
		progress = noopProgress{}
	}
	p.progress = progress
	return p
}

type job struct {
	file onedrive.RemoteFile
	name string
}

// Run executes one row. Individual file failures do not stop the run; they
// are collected and returned joined with ErrPartialRun, and the watermark is
// left unchanged. A cancelled context also leaves the watermark unchanged.
func (p *Pipeline) Run(ctx context.Context, row Row) (Result, error) {
	result := Result{RunID: p.newRunID()}
	log := p.logger

	m := mask.Compile(row.FilePath)
	tracker := watermark.NewTracker(p.store, row.Key, log)

	before := tracker.Load(ctx)
	result.WatermarkBefore = before
	result.WatermarkAfter = before

	log.Info("Listing files", "run_id", result.RunID, "mask", m.String(), "root", "/"+m.Root())
	files, err := p.lister.ListFiles(ctx, m.Root(), m.CanDescend)
	if err != nil {
		return result, fmt.Errorf("listing files: %w", err)
	}

	for _, file := range files {
		result.Listed++
		if !m.Match(file.Path) {
			log.Debugf("Skipping %s: does not match mask %s", file.Path, m)
			continue
		}
		result.Matched++
		if !watermark.ShouldInclude(file.LastModified, before, row.NewFilesOnly) {
			log.Debugf("Skipping %s: last modified %s is not after %s", file.Path, file.LastModified.Format(time.RFC3339), before.Format(time.RFC3339))
			result.Stale++
			continue
		}
		result.Selected = append(result.Selected, file)
	}
	log.Info("Selected files", "listed", result.Listed, "matched", result.Matched, "stale", result.Stale, "selected", len(result.Selected))

	if row.DryRun {
		return result, nil
	}

	var maxObserved time.Time
	jobs := p.plan(&result)

	opts := storage.Options{Tag: row.CustomTag, Permanent: row.Permanent, RunID: result.RunID}
	var mu sync.Mutex
	record := func(j job, artifact storage.Artifact, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			log.Error("Transfer failed", "path", j.file.Path, "error", err)
			result.Failed++
			result.Failures = append(result.Failures, &FileError{Path: j.file.Path, Err: err})
			return
		}
		log.Info("Stored file", "path", j.file.Path, "location", artifact.Location, "size", artifact.Size)
		result.Downloaded++
		result.Artifacts = append(result.Artifacts, artifact)
		if j.file.LastModified.After(maxObserved) {
			maxObserved = j.file.LastModified
		}
	}

	limit := row.MaxConcurrentDownloads
	if limit < 1 {
		limit = 1
	}
	p.progress.Start(len(jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for _, j := range jobs {
		j := j
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			artifact, err := p.transfer(ctx, j, opts)
			record(j, artifact, err)
			p.progress.Done(j.file, err)
			return nil
		})
	}
	_ = g.Wait()
	p.progress.Finish()

	sort.Slice(result.Artifacts, func(i, k int) bool {
		return result.Artifacts[i].SourcePath < result.Artifacts[k].SourcePath
	})
	sort.Slice(result.Failures, func(i, k int) bool {
		return result.Failures[i].Path < result.Failures[k].Path
	})

	if err := ctx.Err(); err != nil {
		log.Warn("Run cancelled, watermark not advanced", "row", row.Key)
		return result, err
	}
	if result.Failed > 0 {
		log.Warn("Run incomplete, watermark not advanced", "row", row.Key, "failed", result.Failed)
		errs := []error{fmt.Errorf("%w: %d of %d files failed", ErrPartialRun, result.Failed, len(result.Selected)-result.Superseded)}
		for _, f := range result.Failures {
			errs = append(errs, f)
		}
		return result, errors.Join(errs...)
	}

	after, err := tracker.Update(ctx, maxObserved)
	if err != nil {
		return result, err
	}
	result.WatermarkAfter = after
	result.Advanced = after.After(before)
	return result, nil
}

// plan assigns destination names to the selected files. Files whose name
// cannot be derived fail immediately. When several files share a name only
// the most recently modified one is transferred, the later one in listing
// order on equal timestamps; the others are counted as superseded.
func (p *Pipeline) plan(result *Result) []job {
	winner := map[string]int{}
	named := make([]job, 0, len(result.Selected))
	for _, file := range result.Selected {
		name, err := storage.ObjectName(file.Path)
		if err != nil {
			p.logger.Error("Cannot store file", "path", file.Path, "error", err)
			result.Failed++
			result.Failures = append(result.Failures, &FileError{Path: file.Path, Err: err})
			continue
		}
		idx := len(named)
		named = append(named, job{file: file, name: name})

		prev, ok := winner[name]
		if !ok {
			winner[name] = idx
			continue
		}
		kept, dropped := named[prev].file, file
		if !kept.LastModified.After(file.LastModified) {
			winner[name] = idx
			kept, dropped = file, named[prev].file
		}
		p.logger.Warn("Selected files share a destination name, keeping the newest",
			"name", name, "kept", kept.Path, "skipped", dropped.Path)
	}

	var jobs []job
	for i, j := range named {
		if winner[j.name] != i {
			result.Superseded++
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}

func (p *Pipeline) transfer(ctx context.Context, j job, opts storage.Options) (storage.Artifact, error) {
	body, err := p.downloader.Download(ctx, j.file)
	if err != nil {
		return storage.Artifact{}, err
	}
	defer body.Close()

	return p.writer.Write(ctx, storage.Object{
		Name:         j.name,
		Path:         j.file.Path,
		Size:         j.file.Size,
		LastModified: j.file.LastModified,
		Body:         body,
	}, opts)
}

type noopProgress struct{}

func (noopProgress) Start(int) {}

func (noopProgress) Done(onedrive.RemoteFile, error) {}

func (noopProgress) Finish() {}
