package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

func TestValidateLogic(t *testing.T) {
	cfg := newTestConfig(t)

	output := captureOutput(t, func() {
		assert.NoError(t, validateLogic(cfg))
	})
	assert.Contains(t, output, `listing starts at "db_exports"`)
	assert.Contains(t, output, "Configuration is valid.")
}

func TestValidateLogicRootMask(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Settings.FilePath = "*.csv"

	output := captureOutput(t, func() {
		assert.NoError(t, validateLogic(cfg))
	})
	assert.Contains(t, output, `listing starts at ""`)
}

func TestLibrariesLogic(t *testing.T) {
	var gotSite string
	mockSDK := &MockSDK{
		GetDocumentLibrariesFunc: func(siteURL string) ([]onedrive.Drive, error) {
			gotSite = siteURL
			return []onedrive.Drive{{Name: "Shared Documents", DriveType: "documentLibrary"}}, nil
		},
	}
	a := newTestApp(t, mockSDK)
	a.Config.Account = config.AccountConfig{
		AccountType: onedrive.AccountSharePoint,
		TenantID:    "contoso.onmicrosoft.com",
		SiteURL:     "https://contoso.sharepoint.com/sites/finance",
	}

	output := captureOutput(t, func() {
		assert.NoError(t, librariesLogic(a, newTestCommand()))
	})
	assert.Equal(t, "https://contoso.sharepoint.com/sites/finance", gotSite)
	assert.Contains(t, output, "Shared Documents")
	assert.Contains(t, output, "documentLibrary")
}

func TestLibrariesLogicPersonalAccount(t *testing.T) {
	a := newTestApp(t, &MockSDK{})
	err := librariesLogic(a, newTestCommand())
	assert.ErrorIs(t, err, app.ErrNotSharePoint)
}

func TestLibrariesLogicError(t *testing.T) {
	boom := errors.New("boom")
	a := newTestApp(t, &MockSDK{
		GetDocumentLibrariesFunc: func(string) ([]onedrive.Drive, error) { return nil, boom },
	})
	a.Config.Account = config.AccountConfig{AccountType: onedrive.AccountSharePoint, TenantID: "t", SiteURL: "https://contoso.sharepoint.com/sites/x"}
	assert.ErrorIs(t, librariesLogic(a, newTestCommand()), boom)
}

func TestWatermarkShowAndReset(t *testing.T) {
	mockSDK := &MockSDK{
		ListFilesFunc: func(string) ([]onedrive.RemoteFile, error) { return reportFiles(), nil },
	}
	a := newTestApp(t, mockSDK)

	output := captureOutput(t, func() {
		assert.NoError(t, watermarkShowLogic(newTestCommand(), a.Config))
	})
	assert.Contains(t, output, "Watermark:     none")

	captureOutput(t, func() {
		require.NoError(t, runLogic(a, newTestCommand(), false, false))
	})

	output = captureOutput(t, func() {
		assert.NoError(t, watermarkShowLogic(newTestCommand(), a.Config))
	})
	assert.Contains(t, output, "2024-02-10T08:00:00Z")
	assert.Contains(t, output, a.Config.RowKey())

	output = captureOutput(t, func() {
		assert.NoError(t, watermarkResetLogic(newTestCommand(), a.Config, nil))
	})
	assert.Contains(t, output, "Watermark reset.")

	output = captureOutput(t, func() {
		assert.NoError(t, watermarkShowLogic(newTestCommand(), a.Config))
	})
	assert.Contains(t, output, "Watermark:     none")
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "validate", "libraries", "watermark", "auth"} {
		assert.True(t, names[want], "missing command %q", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("debug"))
	assert.NotNil(t, runCmd.Flags().Lookup("dry-run"))
}
