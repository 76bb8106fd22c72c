// Package onedrive (auth.go) handles OAuth2 against the Microsoft identity
// platform: scopes and authority per account type, and the authorization
// code grant with PKCE used by "auth login".
package onedrive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	cv "github.com/nirasan/go-oauth-pkce-code-verifier"
	"golang.org/x/oauth2"
)

// AccountType selects how the drive is resolved and which scopes are requested.
type AccountType string

const (
	AccountPersonal   AccountType = "private_onedrive"
	AccountBusiness   AccountType = "onedrive_for_business"
	AccountSharePoint AccountType = "sharepoint"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountPersonal, AccountBusiness, AccountSharePoint:
		return true
	}
	return false
}

// RequiresTenant reports whether the account type authenticates against a
// specific Azure AD tenant.
func (t AccountType) RequiresTenant() bool {
	return t == AccountBusiness || t == AccountSharePoint
}

// Scopes returns the delegated permissions requested for the account type.
func Scopes(t AccountType) []string {
	if t == AccountPersonal {
		return []string{"Files.Read.All", "User.Read", "offline_access"}
	}
	return []string{"Sites.Read.All", "Files.Read.All", "offline_access"}
}

// Authority returns the tenant segment of the login endpoints: "common" for
// personal accounts, the tenant otherwise.
func Authority(t AccountType, tenantID string) string {
	if t == AccountPersonal || tenantID == "" {
		return "common"
	}
	return tenantID
}

// OAuthToken is the token persisted between runs.
type OAuthToken oauth2.Token

// OAuthConfig is the OAuth2 client configuration for one account.
type OAuthConfig oauth2.Config

// GetOauth2Config builds the OAuth2 configuration for an account.
// clientSecret may be empty for public client registrations.
func GetOauth2Config(clientID, clientSecret string, t AccountType, tenantID string) *OAuthConfig {
	base := customLoginURL + url.PathEscape(Authority(t, tenantID)) + "/oauth2/v2.0/"
	return &OAuthConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       Scopes(t),
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "authorize",
			TokenURL: base + "token",
		},
		RedirectURL: DefaultRedirectURL,
	}
}

// AuthSession holds what is needed to finish a login started with
// StartAuthentication.
type AuthSession struct {
	URL      string
	Verifier string
	State    string
}

// StartAuthentication creates a PKCE verifier and returns the URL the user
// must open in a browser.
func StartAuthentication(ctx context.Context, oauthConfig *OAuthConfig) (AuthSession, error) {
	if oauthConfig == nil {
		return AuthSession{}, errors.New("oauth configuration is nil")
	}

	verifier, err := cv.CreateCodeVerifier()
	if err != nil {
		return AuthSession{}, fmt.Errorf("creating code verifier: %w", err)
	}

	state := uuid.NewString()
	nativeOAuthConfig := oauth2.Config(*oauthConfig)
	authURL := nativeOAuthConfig.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", verifier.CodeChallengeS256()),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return AuthSession{URL: authURL, Verifier: verifier.String(), State: state}, nil
}

// ParseRedirect extracts the authorization code from the URL the browser was
// redirected to. A bare code is accepted as is.
func ParseRedirect(redirected, state string) (string, error) {
	redirected = strings.TrimSpace(redirected)
	if redirected == "" {
		return "", fmt.Errorf("%w: empty authorization response", ErrInvalidRequest)
	}
	if !strings.Contains(redirected, "?") && !strings.Contains(redirected, "://") {
		return redirected, nil
	}

	u, err := url.Parse(redirected)
	if err != nil {
		return "", fmt.Errorf("%w: parsing redirect URL: %w", ErrInvalidRequest, err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("%w: %s: %s", ErrAccessDenied, e, q.Get("error_description"))
	}
	if state != "" && q.Get("state") != state {
		return "", ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: redirect URL has no code parameter", ErrInvalidRequest)
	}
	return code, nil
}

// CompleteAuthentication exchanges the authorization code for a token.
func CompleteAuthentication(ctx context.Context, oauthConfig *OAuthConfig, code, verifier string) (*OAuthToken, error) {
	if oauthConfig == nil {
		return nil, errors.New("oauth configuration is nil")
	}

	nativeOAuthConfig := oauth2.Config(*oauthConfig)
	token, err := nativeOAuthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	oauthToken := OAuthToken(*token)
	return &oauthToken, nil
}
