package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-extractor/internal/storage"
	"github.com/tonimelisma/onedrive-extractor/internal/watermark"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func remote(path string, modified time.Time) onedrive.RemoteFile {
	return onedrive.RemoteFile{Path: path, Name: filepath.Base(path), ID: "id-" + path, Size: int64(len(path)), LastModified: modified}
}

type fakeLister struct {
	mu    sync.Mutex
	files []onedrive.RemoteFile
	err   error
	roots []string
}

func (f *fakeLister) ListFiles(_ context.Context, root string, descend func(string) bool) ([]onedrive.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append(f.roots, root)
	return f.files, f.err
}

type fakeDownloader struct {
	fail     map[string]error
	inFlight int32
	maxSeen  int32
	hook     func(file onedrive.RemoteFile)
}

func (d *fakeDownloader) Download(_ context.Context, file onedrive.RemoteFile) (io.ReadCloser, error) {
	n := atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&d.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&d.maxSeen, seen, n) {
			break
		}
	}
	if d.hook != nil {
		d.hook(file)
	}
	time.Sleep(time.Millisecond)
	if err := d.fail[file.Path]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("content of " + file.Path)), nil
}

type written struct {
	obj     storage.Object
	content string
	opts    storage.Options
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []written
}

func (w *fakeWriter) Write(_ context.Context, obj storage.Object, opts storage.Options) (storage.Artifact, error) {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return storage.Artifact{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, written{obj: obj, content: string(data), opts: opts})
	return storage.Artifact{Location: "mem://" + obj.Name, Name: obj.Name, SourcePath: obj.Path, Size: int64(len(data)), Tags: opts.Tags()}, nil
}

func (w *fakeWriter) names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, wr := range w.writes {
		out = append(out, wr.obj.Name)
	}
	return out
}

type fixture struct {
	lister     *fakeLister
	downloader *fakeDownloader
	writer     *fakeWriter
	store      watermark.Store
	pipeline   *Pipeline
}

func newFixture(t *testing.T, files ...onedrive.RemoteFile) *fixture {
	t.Helper()
	f := &fixture{
		lister:     &fakeLister{files: files},
		downloader: &fakeDownloader{fail: map[string]error{}},
		writer:     &fakeWriter{},
		store:      watermark.NewFileStore(filepath.Join(t.TempDir(), "state.json")),
	}
	f.pipeline = New(f.lister, f.downloader, f.writer, f.store, nil)
	f.pipeline.newRunID = func() string { return "run-1" }
	return f
}

func (f *fixture) stored(t *testing.T, key string) time.Time {
	t.Helper()
	state, err := f.store.Get(context.Background(), key)
	if errors.Is(err, watermark.ErrNotFound) {
		return time.Time{}
	}
	require.NoError(t, err)
	return state.LastModified
}

func TestRunAppliesMask(t *testing.T) {
	f := newFixture(t,
		remote("a.csv", t0),
		remote("b.txt", t0),
		remote("reports/r.csv", t0),
		remote("reports/r.txt", t0),
		remote("reports/sub/s.csv", t0),
	)

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "/reports/*.csv"})
	require.NoError(t, err)

	assert.Equal(t, []string{"reports"}, f.lister.roots)
	assert.Equal(t, 5, result.Listed)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, []string{"r.csv"}, f.writer.names())
	assert.Equal(t, "content of reports/r.csv", f.writer.writes[0].content)
}

func TestRunRootMaskSkipsSubfolders(t *testing.T) {
	f := newFixture(t, remote("a.csv", t0), remote("dir/sub/b.csv", t0))

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, f.lister.roots)
	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, []string{"a.csv"}, f.writer.names())
}

func TestRunAttachesTagAndRetention(t *testing.T) {
	f := newFixture(t, remote("db_exports/report_2022.xlsx", t0), remote("db_exports/sub/report_2022.xlsx", t0))

	result, err := f.pipeline.Run(context.Background(), Row{
		Key:       "row",
		FilePath:  "db_exports/report_*.xlsx",
		CustomTag: "finance",
		Permanent: true,
	})
	require.NoError(t, err)
	require.Len(t, f.writer.writes, 1)

	w := f.writer.writes[0]
	assert.Equal(t, "report_2022.xlsx", w.obj.Name)
	assert.Equal(t, "db_exports/report_2022.xlsx", w.obj.Path)
	assert.Equal(t, storage.Options{Tag: "finance", Permanent: true, RunID: "run-1"}, w.opts)
	assert.Equal(t, "run-1", result.RunID)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "finance", result.Artifacts[0].Tags[storage.TagCustom])
}

func TestRunWatermarkAcrossRuns(t *testing.T) {
	f := newFixture(t, remote("a.csv", t0), remote("b.csv", t0.Add(time.Hour)))
	row := Row{Key: "row", FilePath: "*.csv", NewFilesOnly: true}

	first, err := f.pipeline.Run(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Downloaded)
	assert.True(t, first.WatermarkBefore.IsZero())
	assert.True(t, first.WatermarkAfter.Equal(t0.Add(time.Hour)))
	assert.True(t, first.Advanced)

	second, err := f.pipeline.Run(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 2, second.Stale)
	assert.False(t, second.Advanced)
	assert.True(t, second.WatermarkAfter.Equal(t0.Add(time.Hour)))
	assert.True(t, f.stored(t, "row").Equal(t0.Add(time.Hour)))
}

func TestRunWatermarkIsStrict(t *testing.T) {
	f := newFixture(t, remote("same.csv", t0), remote("newer.csv", t0.Add(time.Second)))
	require.NoError(t, f.store.Put(context.Background(), "row", watermark.State{LastModified: t0}))

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*.csv", NewFilesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stale)
	assert.Equal(t, []string{"newer.csv"}, f.writer.names())
	assert.True(t, f.stored(t, "row").Equal(t0.Add(time.Second)))
}

func TestRunWithoutNewFilesOnlyDownloadsEverything(t *testing.T) {
	f := newFixture(t, remote("old.csv", t0.Add(-48*time.Hour)))
	require.NoError(t, f.store.Put(context.Background(), "row", watermark.State{LastModified: t0}))

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Downloaded)
	assert.False(t, result.Advanced)
	assert.True(t, f.stored(t, "row").Equal(t0), "watermark never moves backwards")
}

func TestRunPartialFailureWithholdsWatermark(t *testing.T) {
	f := newFixture(t, remote("a.csv", t0), remote("b.csv", t0.Add(time.Hour)))
	f.downloader.fail["a.csv"] = onedrive.ErrRetryLater

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*.csv", NewFilesOnly: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialRun)
	assert.ErrorIs(t, err, onedrive.ErrRetryLater)
	assert.Contains(t, err.Error(), "1 of 2 files failed")

	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "a.csv", result.Failures[0].Path)
	assert.False(t, result.Advanced)
	assert.True(t, f.stored(t, "row").IsZero())
}

func TestRunDuplicateNamesNewestWins(t *testing.T) {
	f := newFixture(t,
		remote("archive/a.csv", t0.Add(2*time.Hour)),
		remote("reports/a.csv", t0.Add(time.Hour)),
	)

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*/a.csv", NewFilesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Superseded)
	assert.Equal(t, 1, result.Downloaded)
	require.Len(t, f.writer.writes, 1)
	assert.Equal(t, "archive/a.csv", f.writer.writes[0].obj.Path)
	assert.True(t, result.WatermarkAfter.Equal(t0.Add(2*time.Hour)))
}

func TestRunDuplicateNamesEqualTimesLaterWins(t *testing.T) {
	f := newFixture(t,
		remote("archive/a.csv", t0),
		remote("reports/a.csv", t0),
	)

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*/a.csv"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Superseded)
	require.Len(t, f.writer.writes, 1)
	assert.Equal(t, "reports/a.csv", f.writer.writes[0].obj.Path)
}

func TestRunRetriesAfterPartialFailureWithDuplicates(t *testing.T) {
	f := newFixture(t,
		remote("archive/a.csv", t0.Add(2*time.Hour)),
		remote("reports/a.csv", t0.Add(time.Hour)),
		remote("reports/b.csv", t0.Add(3*time.Hour)),
	)
	f.downloader.fail["reports/b.csv"] = errors.New("timeout")

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*/*.csv", NewFilesOnly: true})
	assert.ErrorIs(t, err, ErrPartialRun)
	assert.False(t, result.Advanced)
	assert.True(t, f.stored(t, "row").IsZero())

	delete(f.downloader.fail, "reports/b.csv")
	f.writer.writes = nil
	result, err = f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*/*.csv", NewFilesOnly: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.csv", "b.csv"}, f.writer.names())
	assert.True(t, result.WatermarkAfter.Equal(t0.Add(3*time.Hour)))
	for _, w := range f.writer.writes {
		if w.obj.Name == "a.csv" {
			assert.Equal(t, "archive/a.csv", w.obj.Path)
		}
	}
}

func TestRunParallelDownloads(t *testing.T) {
	var files []onedrive.RemoteFile
	for i := 0; i < 12; i++ {
		files = append(files, remote("f"+string(rune('a'+i))+".csv", t0.Add(time.Duration(i)*time.Minute)))
	}
	f := newFixture(t, files...)

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*.csv", NewFilesOnly: true, MaxConcurrentDownloads: 4})
	require.NoError(t, err)
	assert.Equal(t, 12, result.Downloaded)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.downloader.maxSeen), int32(4))
	assert.True(t, result.WatermarkAfter.Equal(t0.Add(11*time.Minute)))

	require.Len(t, result.Artifacts, 12)
	assert.Equal(t, "fa.csv", result.Artifacts[0].SourcePath)
	assert.Equal(t, "fl.csv", result.Artifacts[11].SourcePath)
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t, remote("a.csv", t0), remote("b.txt", t0))

	result, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*.csv", NewFilesOnly: true, DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, "a.csv", result.Selected[0].Path)
	assert.Empty(t, f.writer.writes)
	assert.True(t, f.stored(t, "row").IsZero())
}

func TestRunCancelledWithholdsWatermark(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, remote("a.csv", t0), remote("b.csv", t0.Add(time.Hour)), remote("c.csv", t0.Add(2*time.Hour)))
	f.downloader.hook = func(onedrive.RemoteFile) { cancel() }

	result, err := f.pipeline.Run(ctx, Row{Key: "row", FilePath: "*.csv", NewFilesOnly: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, result.Downloaded, 3)
	assert.True(t, f.stored(t, "row").IsZero())
}

func TestRunListingError(t *testing.T) {
	f := newFixture(t)
	f.lister.err = onedrive.ErrResourceNotFound

	_, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "missing/*.csv"})
	assert.ErrorIs(t, err, onedrive.ErrResourceNotFound)
	assert.Contains(t, err.Error(), "listing files")
	assert.Empty(t, f.writer.writes)
}

type countingProgress struct {
	mu       sync.Mutex
	total    int
	done     int
	failed   int
	finished bool
}

func (p *countingProgress) Start(total int) { p.total = total }

func (p *countingProgress) Done(_ onedrive.RemoteFile, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if err != nil {
		p.failed++
	}
}

func (p *countingProgress) Finish() { p.finished = true }

func TestRunReportsProgress(t *testing.T) {
	f := newFixture(t, remote("a.csv", t0), remote("b.csv", t0), remote("c.csv", t0))
	f.downloader.fail["b.csv"] = errors.New("boom")
	progress := &countingProgress{}
	f.pipeline.WithProgress(progress)

	_, err := f.pipeline.Run(context.Background(), Row{Key: "row", FilePath: "*.csv", MaxConcurrentDownloads: 2})
	assert.ErrorIs(t, err, ErrPartialRun)
	assert.Equal(t, 3, progress.total)
	assert.Equal(t, 3, progress.done)
	assert.Equal(t, 1, progress.failed)
	assert.True(t, progress.finished)
}

func TestRunWithLocalWriter(t *testing.T) {
	f := newFixture(t, remote("exports/a.csv", t0))
	writer, err := storage.NewLocalWriter(t.TempDir())
	require.NoError(t, err)
	p := New(f.lister, f.downloader, writer, f.store, nil)

	result, err := p.Run(context.Background(), Row{Key: "row", FilePath: "exports/*", CustomTag: "daily"})
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 1)

	manifest, err := storage.ReadManifest(result.Artifacts[0].Location)
	require.NoError(t, err)
	assert.Equal(t, "daily", manifest.Tags[storage.TagCustom])
	assert.Equal(t, result.RunID, manifest.Tags[storage.TagRunID])
	assert.False(t, manifest.Permanent)
}
