// Package config loads, validates and saves the connector configuration.
// Files ending in .yaml or .yml are YAML; anything else is JSON. Token
// refreshes are written back to the same file in the same format.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/onedrive-extractor/internal/storage"
	"github.com/tonimelisma/onedrive-extractor/internal/watermark"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
	"gopkg.in/yaml.v3"
)

const (
	appDir     = "onedrive-extractor"
	configFile = "config.json"
	// EnvConfigPath overrides the default configuration file location.
	EnvConfigPath = "ONEDRIVE_EXTRACTOR_CONFIG"
	// ClientID is the public application registration used when none is configured.
	ClientID = "71ae7ad2-0207-4618-90d3-d21db38f9f7a"
)

// Destination types.
const (
	DestinationLocal = "local"
	DestinationMinIO = "minio"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// AccountConfig selects the Microsoft account and drive.
type AccountConfig struct {
	AccountType onedrive.AccountType `json:"account_type" yaml:"account_type"`
	TenantID    string               `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	SiteURL     string               `json:"site_url,omitempty" yaml:"site_url,omitempty"`
	LibraryName string               `json:"library_name,omitempty" yaml:"library_name,omitempty"`
}

// TokenConfig is the persisted OAuth token.
type TokenConfig struct {
	AccessToken  string    `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty" yaml:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty" yaml:"expiry,omitempty"`
}

// OAuthToken converts the persisted token for the client.
func (t TokenConfig) OAuthToken() onedrive.OAuthToken {
	return onedrive.OAuthToken{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// IsZero reports whether no token is stored.
func (t TokenConfig) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// CredentialsConfig holds the application registration and the user token.
type CredentialsConfig struct {
	ClientID     string      `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string      `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	Token        TokenConfig `json:"token" yaml:"token"`
}

// SettingsConfig selects the files of a row.
type SettingsConfig struct {
	FilePath               string `json:"file_path" yaml:"file_path"`
	NewFilesOnly           bool   `json:"new_files_only" yaml:"new_files_only"`
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads,omitempty" yaml:"max_concurrent_downloads,omitempty"`
	RowID                  string `json:"row_id,omitempty" yaml:"row_id,omitempty"`
}

// LocalConfig configures the local directory destination.
type LocalConfig struct {
	OutDir string `json:"out_dir" yaml:"out_dir"`
}

// MinIOConfig configures the S3-compatible destination.
type MinIOConfig struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
}

// DestinationConfig controls where and how downloaded files are stored.
type DestinationConfig struct {
	CustomTag      string      `json:"custom_tag,omitempty" yaml:"custom_tag,omitempty"`
	PermanentFiles bool        `json:"permanent_files" yaml:"permanent_files"`
	Type           string      `json:"type,omitempty" yaml:"type,omitempty"`
	Local          LocalConfig `json:"local" yaml:"local"`
	MinIO          MinIOConfig `json:"minio" yaml:"minio"`
}

// StateConfig selects the watermark store.
type StateConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// HTTPConfig holds HTTP client settings. Durations are nanoseconds in JSON
// and Go duration strings ("30s") in YAML.
type HTTPConfig struct {
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts     int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
}

// Client converts the settings for the Graph client.
func (h HTTPConfig) Client() onedrive.HTTPConfig {
	return onedrive.HTTPConfig{
		Timeout:           h.Timeout,
		RetryAttempts:     h.RetryAttempts,
		RetryDelay:        h.RetryDelay,
		MaxRetryDelay:     h.MaxRetryDelay,
		RequestsPerSecond: h.RequestsPerSecond,
	}
}

// DefaultHTTPConfig returns the HTTP defaults of the Graph client.
func DefaultHTTPConfig() HTTPConfig {
	d := onedrive.DefaultHTTPConfig()
	return HTTPConfig{
		Timeout:           d.Timeout,
		RetryAttempts:     d.RetryAttempts,
		RetryDelay:        d.RetryDelay,
		MaxRetryDelay:     d.MaxRetryDelay,
		RequestsPerSecond: d.RequestsPerSecond,
	}
}

// Configuration is one account plus one data source row.
type Configuration struct {
	Account     AccountConfig     `json:"account" yaml:"account"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`
	Settings    SettingsConfig    `json:"settings" yaml:"settings"`
	Destination DestinationConfig `json:"destination" yaml:"destination"`
	State       StateConfig       `json:"state" yaml:"state"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	Debug       bool              `json:"debug" yaml:"debug"`

	path string
	mu   sync.RWMutex
}

// DefaultPath returns the configuration file location: $ONEDRIVE_EXTRACTOR_CONFIG
// if set, otherwise config.json in the user configuration directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user config directory: %w", err)
	}
	return filepath.Join(dir, appDir, configFile), nil
}

// Load reads the configuration at path and applies defaults. An empty path
// means DefaultPath.
func Load(path string) (*Configuration, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Configuration{path: path}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrCreate loads the configuration at path or, when the file does not
// exist, returns a new one with defaults that Save will write to path.
func LoadOrCreate(path string) (*Configuration, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	path, err = resolvePath(path)
	if err != nil {
		return nil, err
	}
	cfg = &Configuration{path: path}
	cfg.applyDefaults()
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultPath()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Configuration) applyDefaults() {
	if c.Settings.FilePath == "" {
		c.Settings.FilePath = "*"
	}
	if c.Settings.MaxConcurrentDownloads == 0 {
		c.Settings.MaxConcurrentDownloads = 1
	}
	if c.Credentials.ClientID == "" {
		c.Credentials.ClientID = ClientID
	}
	if c.Destination.Type == "" {
		c.Destination.Type = DestinationLocal
	}
	if c.Destination.Type == DestinationLocal && c.Destination.Local.OutDir == "" {
		c.Destination.Local.OutDir = "downloads"
	}
	if c.State.Backend == "" {
		c.State.Backend = watermark.BackendBolt
	}

	defaults := DefaultHTTPConfig()
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = defaults.Timeout
	}
	if c.HTTP.RetryAttempts == 0 {
		c.HTTP.RetryAttempts = defaults.RetryAttempts
	}
	if c.HTTP.RetryDelay == 0 {
		c.HTTP.RetryDelay = defaults.RetryDelay
	}
	if c.HTTP.MaxRetryDelay == 0 {
		c.HTTP.MaxRetryDelay = defaults.MaxRetryDelay
	}
	if c.HTTP.RequestsPerSecond == 0 {
		c.HTTP.RequestsPerSecond = defaults.RequestsPerSecond
	}
}

// Path returns the file the configuration is loaded from and saved to.
func (c *Configuration) Path() string {
	return c.path
}

// Validate checks the configuration before any network activity. Every
// problem is reported; each wraps ErrInvalidConfig.
func (c *Configuration) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	acct := c.Account
	if !acct.AccountType.Valid() {
		invalid("account.account_type %q must be one of %s, %s, %s", acct.AccountType,
			onedrive.AccountPersonal, onedrive.AccountBusiness, onedrive.AccountSharePoint)
	}
	if acct.AccountType.RequiresTenant() && acct.TenantID == "" {
		invalid("account.tenant_id is required for account type %s", acct.AccountType)
	}
	if acct.AccountType == onedrive.AccountSharePoint {
		if acct.SiteURL == "" {
			invalid("account.site_url is required for account type %s", acct.AccountType)
		} else if u, err := url.Parse(acct.SiteURL); err != nil || u.Scheme != "https" || u.Host == "" {
			invalid("account.site_url %q must be an absolute https URL", acct.SiteURL)
		}
	} else if acct.LibraryName != "" {
		invalid("account.library_name is only valid for account type %s", onedrive.AccountSharePoint)
	}

	if c.Settings.MaxConcurrentDownloads < 1 {
		invalid("settings.max_concurrent_downloads must be at least 1")
	}

	if !storage.ValidTagValue(c.Destination.CustomTag) {
		invalid("destination.custom_tag %q may only contain letters, digits, spaces and + - = . _ : / @ (at most %d characters)",
			c.Destination.CustomTag, storage.MaxTagValueLength)
	}

	switch c.Destination.Type {
	case DestinationLocal:
		if c.Destination.Local.OutDir == "" {
			invalid("destination.local.out_dir is required")
		}
	case DestinationMinIO:
		m := c.Destination.MinIO
		if m.Endpoint == "" {
			invalid("destination.minio.endpoint is required")
		}
		if m.Bucket == "" {
			invalid("destination.minio.bucket is required")
		}
		if m.AccessKeyID == "" || m.SecretAccessKey == "" {
			invalid("destination.minio.access_key_id and secret_access_key are required")
		}
	default:
		invalid("destination.type %q must be %s or %s", c.Destination.Type, DestinationLocal, DestinationMinIO)
	}

	switch c.State.Backend {
	case watermark.BackendBolt, watermark.BackendFile:
	default:
		invalid("state.backend %q must be %s or %s", c.State.Backend, watermark.BackendBolt, watermark.BackendFile)
	}

	if c.HTTP.RetryAttempts < 0 {
		invalid("http.retry_attempts must not be negative")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		invalid("http.requests_per_second must not be negative")
	}

	return errors.Join(errs...)
}

// RowKey returns the watermark key of the row: settings.row_id when set,
// otherwise a hash of the account and the file mask.
func (c *Configuration) RowKey() string {
	if c.Settings.RowID != "" {
		return c.Settings.RowID
	}
	return watermark.RowKey(
		string(c.Account.AccountType),
		c.Account.TenantID,
		c.Account.SiteURL,
		c.Account.LibraryName,
		c.Settings.FilePath,
	)
}

// StatePath returns the watermark store location: state.path when set,
// otherwise a file next to the configuration file.
func (c *Configuration) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	name := "state.db"
	if c.State.Backend == watermark.BackendFile {
		name = "state.json"
	}
	return filepath.Join(filepath.Dir(c.path), name)
}

// DriveTarget returns the drive the row reads from.
func (c *Configuration) DriveTarget() onedrive.DriveTarget {
	return onedrive.DriveTarget{
		AccountType: c.Account.AccountType,
		SiteURL:     c.Account.SiteURL,
		LibraryName: c.Account.LibraryName,
	}
}

// OAuthConfig returns the OAuth2 configuration for the account.
func (c *Configuration) OAuthConfig() *onedrive.OAuthConfig {
	return onedrive.GetOauth2Config(c.Credentials.ClientID, c.Credentials.ClientSecret, c.Account.AccountType, c.Account.TenantID)
}

// Token returns the stored token.
func (c *Configuration) Token() TokenConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Credentials.Token
}

// UpdateToken stores a new token and saves the configuration.
func (c *Configuration) UpdateToken(token onedrive.OAuthToken) error {
	c.mu.Lock()
	c.Credentials.Token = TokenConfig{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	c.mu.Unlock()
	return c.Save()
}

// ClearToken removes the stored token and saves the configuration.
func (c *Configuration) ClearToken() error {
	c.mu.Lock()
	c.Credentials.Token = TokenConfig{}
	c.mu.Unlock()
	return c.Save()
}

// Save writes the configuration back to its file with owner-only permissions.
func (c *Configuration) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return errors.New("configuration has no file path")
	}

	var (
		data []byte
		err  error
	)
	if isYAML(c.path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), onedrive.PermSecureDir); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, onedrive.PermSecureFile); err != nil {
		return fmt.Errorf("writing configuration file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing configuration file: %w", err)
	}
	return nil
}
