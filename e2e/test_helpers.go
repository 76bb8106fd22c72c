//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/internal/logger"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

const setupHelp = `
E2E Testing Setup Required:

1. Log in with a configuration of your choice:
   ./onedrive-extractor --config ./config.json auth login

2. Point the tests at it (defaults to ../config.json):
   export ONEDRIVE_EXTRACTOR_E2E_CONFIG=$PWD/config.json

3. Optionally narrow the selection:
   export ONEDRIVE_EXTRACTOR_E2E_FILE_PATH='Documents/*.txt'

4. Run the tests:
   go test -tags=e2e -v ./e2e/...
`

// E2ETestHelper provides an App bound to a real account whose destination
// and watermark store live in a temporary directory.
type E2ETestHelper struct {
	App    *app.App
	Config *Config
	OutDir string
}

// NewE2ETestHelper loads the authenticated configuration and redirects all
// local side effects into t.TempDir().
func NewE2ETestHelper(t *testing.T) *E2ETestHelper {
	t.Helper()
	e2eCfg := LoadConfig()

	if _, err := os.Stat(e2eCfg.ConfigPath); err != nil {
		t.Skip(setupHelp)
	}
	source, err := config.Load(e2eCfg.ConfigPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if source.Token().IsZero() {
		t.Skip("No token found. Please run: ./onedrive-extractor auth login")
	}

	// Everything below writes to the copy; the source config, its token and
	// its watermark are never modified.
	tmp := t.TempDir()
	cfg, err := config.LoadOrCreate(filepath.Join(tmp, "config.json"))
	if err != nil {
		t.Fatalf("Failed to create working config: %v", err)
	}
	cfg.Account = source.Account
	cfg.Settings = source.Settings
	if e2eCfg.FilePath != "" {
		cfg.Settings.FilePath = e2eCfg.FilePath
	}
	cfg.Settings.NewFilesOnly = true
	cfg.Settings.RowID = "e2e"
	cfg.Destination = config.DestinationConfig{Type: config.DestinationLocal, CustomTag: "e2e"}
	cfg.Destination.Local.OutDir = filepath.Join(tmp, "out")
	cfg.HTTP = source.HTTP
	if err := cfg.UpdateToken(source.Token().OAuthToken()); err != nil {
		t.Fatalf("Failed to save working config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid configuration: %v", err)
	}

	log := logger.NewDefaultLogger(os.Getenv("ONEDRIVE_EXTRACTOR_E2E_DEBUG") != "")
	client := onedrive.NewClient(context.Background(), cfg.OAuthConfig(), cfg.Token().OAuthToken(), cfg.UpdateToken, cfg.HTTP.Client(), log)

	return &E2ETestHelper{
		App:    app.New(cfg, log, client),
		Config: e2eCfg,
		OutDir: cfg.Destination.Local.OutDir,
	}
}

// Context returns a context bounded by the configured timeout.
func (h *E2ETestHelper) Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), h.Config.Timeout)
	t.Cleanup(cancel)
	return ctx
}

// LogTestInfo logs the row under test.
func (h *E2ETestHelper) LogTestInfo(t *testing.T) {
	t.Helper()
	t.Logf("E2E Test: %s", t.Name())
	t.Logf("Account: %s", h.App.Config.Account.AccountType)
	t.Logf("Mask: %s", h.App.Config.Settings.FilePath)
	t.Logf("Output: %s", h.OutDir)
}
