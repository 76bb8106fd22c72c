package cmd

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// MockSDK is a mock implementation of the app.SDK interface for testing.
type MockSDK struct {
	ResolveDriveFunc         func(target onedrive.DriveTarget) (onedrive.DriveRef, error)
	ListFilesFunc            func(root string) ([]onedrive.RemoteFile, error)
	DownloadFunc             func(file onedrive.RemoteFile) (io.ReadCloser, error)
	GetDocumentLibrariesFunc func(siteURL string) ([]onedrive.Drive, error)
}

func (m *MockSDK) ResolveDrive(_ context.Context, target onedrive.DriveTarget) (onedrive.DriveRef, error) {
	if m.ResolveDriveFunc != nil {
		return m.ResolveDriveFunc(target)
	}
	return onedrive.DriveRef{Drive: onedrive.Drive{ID: "drive-1", Name: "OneDrive"}}, nil
}

func (m *MockSDK) ListFiles(_ context.Context, _ onedrive.DriveRef, root string, _ func(string) bool) ([]onedrive.RemoteFile, error) {
	if m.ListFilesFunc != nil {
		return m.ListFilesFunc(root)
	}
	return nil, nil
}

func (m *MockSDK) Download(_ context.Context, file onedrive.RemoteFile) (io.ReadCloser, error) {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(file)
	}
	return io.NopCloser(strings.NewReader("content of " + file.Path)), nil
}

func (m *MockSDK) GetDocumentLibraries(_ context.Context, siteURL string) ([]onedrive.Drive, error) {
	if m.GetDocumentLibrariesFunc != nil {
		return m.GetDocumentLibrariesFunc(siteURL)
	}
	return nil, nil
}

// newTestConfig writes a valid personal-account configuration into a temp dir.
func newTestConfig(t *testing.T) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadOrCreate(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	cfg.Account.AccountType = onedrive.AccountPersonal
	cfg.Settings.FilePath = "db_exports/report_*.xlsx"
	cfg.Settings.NewFilesOnly = true
	cfg.Destination.CustomTag = "finance"
	cfg.Destination.Local.OutDir = filepath.Join(dir, "out")
	require.NoError(t, cfg.Save())
	return cfg
}

// newTestApp creates a new app instance with a mock SDK for testing.
func newTestApp(t *testing.T, sdk app.SDK) *app.App {
	t.Helper()
	return app.New(newTestConfig(t), nil, sdk)
}

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.SetContext(context.Background())
	return cmd
}

// captureOutput captures stdout and stderr, returning them as a string.
func captureOutput(t *testing.T, f func()) string {
	t.Helper()

	originalLogOutput := log.Writer()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	oldStderr := os.Stderr
	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w2
	log.SetOutput(w2)

	stdoutC := make(chan []byte)
	stderrC := make(chan []byte)
	go func() {
		b, _ := io.ReadAll(r)
		stdoutC <- b
	}()
	go func() {
		b, _ := io.ReadAll(r2)
		stderrC <- b
	}()

	defer func() {
		os.Stdout = oldStdout
		os.Stderr = oldStderr
		log.SetOutput(originalLogOutput)
	}()
	f()

	w.Close()
	w2.Close()
	stdout := <-stdoutC
	stderr := <-stderrC
	return string(stdout) + string(stderr)
}
