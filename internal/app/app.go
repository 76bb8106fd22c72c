// Package app wires configuration, the Graph client, the watermark store and
// the destination writer together for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/internal/logger"
	"github.com/tonimelisma/onedrive-extractor/internal/pipeline"
	"github.com/tonimelisma/onedrive-extractor/internal/session"
	"github.com/tonimelisma/onedrive-extractor/internal/storage"
	"github.com/tonimelisma/onedrive-extractor/internal/watermark"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// ErrNotSharePoint is returned by operations that need a SharePoint site.
var ErrNotSharePoint = errors.New("account is not a SharePoint account")

// App holds everything a command needs.
type App struct {
	Config *config.Configuration
	Logger logger.Logger
	SDK    SDK

	// OpenStore and OpenWriter are replaced in tests.
	OpenStore  func() (watermark.Store, error)
	OpenWriter func(ctx context.Context) (storage.Writer, error)
}

// LoadConfig reads the configuration named by the --config flag (or the
// default location), applies --debug and validates it. Nothing touches the
// network before validation passed.
func LoadConfig(cmd *cobra.Command) (*config.Configuration, logger.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		cfg.Debug = true
	}
	log := logger.NewDefaultLogger(cfg.Debug)

	if err := cfg.Validate(); err != nil {
		return cfg, log, err
	}
	return cfg, log, nil
}

// NewApp loads the configuration and builds an authenticated Graph client.
// It returns onedrive.ErrReauthRequired when no token is stored.
func NewApp(cmd *cobra.Command) (*App, error) {
	cfg, log, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Token().IsZero() {
		return nil, fmt.Errorf("%w: run 'onedrive-extractor auth login' first", onedrive.ErrReauthRequired)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := onedrive.NewClient(ctx, cfg.OAuthConfig(), cfg.Token().OAuthToken(), cfg.UpdateToken, cfg.HTTP.Client(), log)

	return New(cfg, log, client), nil
}

// New assembles an App around an existing SDK.
func New(cfg *config.Configuration, log logger.Logger, sdk SDK) *App {
	if log == nil {
		log = logger.NoopLogger{}
	}
	a := &App{Config: cfg, Logger: log, SDK: sdk}
	a.OpenStore = func() (watermark.Store, error) {
		return OpenStore(cfg, log)
	}
	a.OpenWriter = func(ctx context.Context) (storage.Writer, error) {
		return OpenWriter(ctx, cfg)
	}
	return a
}

// OpenStore opens the watermark store configured for cfg. A corrupt store is
// moved aside and recreated; log receives the warning.
func OpenStore(cfg *config.Configuration, log logger.Logger) (watermark.Store, error) {
	store, err := watermark.Open(cfg.State.Backend, cfg.StatePath(), log)
	if err != nil {
		return nil, fmt.Errorf("opening watermark store: %w", err)
	}
	return store, nil
}

// OpenWriter creates the destination writer configured for cfg. A MinIO
// bucket is created when missing.
func OpenWriter(ctx context.Context, cfg *config.Configuration) (storage.Writer, error) {
	switch cfg.Destination.Type {
	case config.DestinationMinIO:
		m := cfg.Destination.MinIO
		w, err := storage.NewMinIOWriter(storage.MinIOConfig{
			Endpoint:        m.Endpoint,
			AccessKeyID:     m.AccessKeyID,
			SecretAccessKey: m.SecretAccessKey,
			Bucket:          m.Bucket,
			Prefix:          m.Prefix,
			UseSSL:          m.UseSSL,
			Region:          m.Region,
		})
		if err != nil {
			return nil, err
		}
		if err := w.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("preparing bucket %q: %w", m.Bucket, err)
		}
		return w, nil
	default:
		return storage.NewLocalWriter(cfg.Destination.Local.OutDir)
	}
}

// Row returns the pipeline row described by the configuration.
func (a *App) Row(dryRun bool) pipeline.Row {
	return pipeline.Row{
		Key:                    a.Config.RowKey(),
		FilePath:               a.Config.Settings.FilePath,
		NewFilesOnly:           a.Config.Settings.NewFilesOnly,
		CustomTag:              a.Config.Destination.CustomTag,
		Permanent:              a.Config.Destination.PermanentFiles,
		MaxConcurrentDownloads: a.Config.Settings.MaxConcurrentDownloads,
		DryRun:                 dryRun,
	}
}

// RunOptions adjusts a single run.
type RunOptions struct {
	DryRun   bool
	Progress pipeline.Progress
}

// Run resolves the drive and executes the configured row.
func (a *App) Run(ctx context.Context, opts RunOptions) (pipeline.Result, error) {
	drive, err := a.SDK.ResolveDrive(ctx, a.Config.DriveTarget())
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("resolving drive: %w", err)
	}
	a.Logger.Debug("Resolved drive", "drive_id", drive.ID(), "name", drive.Drive.Name)

	store, err := a.OpenStore()
	if err != nil {
		return pipeline.Result{}, err
	}
	defer store.Close()

	var writer storage.Writer = discardWriter{}
	if !opts.DryRun {
		writer, err = a.OpenWriter(ctx)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("opening destination: %w", err)
		}
	}

	source := driveSource{sdk: a.SDK, drive: drive}
	p := pipeline.New(source, source, writer, store, a.Logger).WithProgress(opts.Progress)
	return p.Run(ctx, a.Row(opts.DryRun))
}

// Libraries lists the document libraries of the configured SharePoint site.
func (a *App) Libraries(ctx context.Context) ([]onedrive.Drive, error) {
	if a.Config.Account.AccountType != onedrive.AccountSharePoint {
		return nil, fmt.Errorf("%w: libraries are only available for %s accounts", ErrNotSharePoint, onedrive.AccountSharePoint)
	}
	return a.SDK.GetDocumentLibraries(ctx, a.Config.Account.SiteURL)
}

// Watermark returns the stored watermark of the configured row. found is
// false when none is stored.
func Watermark(ctx context.Context, cfg *config.Configuration) (state watermark.State, found bool, err error) {
	store, err := OpenStore(cfg, nil)
	if err != nil {
		return watermark.State{}, false, err
	}
	defer store.Close()

	state, err = store.Get(ctx, cfg.RowKey())
	switch {
	case errors.Is(err, watermark.ErrNotFound):
		return watermark.State{}, false, nil
	case err != nil:
		return watermark.State{}, false, err
	}
	return state, true, nil
}

// ResetWatermark forgets the watermark of the configured row.
func ResetWatermark(ctx context.Context, cfg *config.Configuration, log logger.Logger) error {
	store, err := OpenStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return watermark.NewTracker(store, cfg.RowKey(), log).Reset(ctx)
}

// Logout clears the stored token and any pending login.
func Logout(cfg *config.Configuration, log logger.Logger) error {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if err := cfg.ClearToken(); err != nil {
		return fmt.Errorf("could not clear token: %w", err)
	}
	if err := sessionManager(cfg).DeleteLogin(); err != nil {
		log.Warn("Could not delete pending login session", "error", err)
	}
	return nil
}

func sessionManager(cfg *config.Configuration) *session.Manager {
	return session.NewManager(filepath.Dir(cfg.Path()))
}
