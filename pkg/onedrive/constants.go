package onedrive

import "time"

// Default HTTP configuration.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 5
	DefaultRetryDelay        = 300 * time.Millisecond
	DefaultMaxRetryDelay     = 30 * time.Second
	DefaultRequestsPerSecond = 10.0
)

// File permissions for credentials and downloaded content.
const (
	PermSecureFile = 0o600
	PermSecureDir  = 0o700
)

// DefaultRedirectURL is registered on the application for the PKCE login.
const DefaultRedirectURL = "http://localhost:53682/"

const (
	loginBaseURL = "https://login.microsoftonline.com/"
	graphBaseURL = "https://graph.microsoft.com/v1.0/"
)

var (
	customLoginURL = loginBaseURL
	customRootURL  = graphBaseURL
)

// SetCustomLoginEndpoint overrides the identity platform base URL. Used in tests.
func SetCustomLoginEndpoint(loginURL string) {
	customLoginURL = loginURL
}

// SetCustomGraphEndpoint overrides the Graph API root for clients created
// afterwards. Used in tests.
func SetCustomGraphEndpoint(graphURL string) {
	customRootURL = graphURL
}
