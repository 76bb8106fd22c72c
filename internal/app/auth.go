package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/internal/session"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// ErrNoPendingLogin is returned by FinishLogin when BeginLogin was not run or
// its session expired.
var ErrNoPendingLogin = errors.New("no pending login, run 'onedrive-extractor auth login' first")

// BeginLogin starts a PKCE authorization code flow and remembers the state
// and verifier until FinishLogin. It returns the URL the user must open.
func BeginLogin(ctx context.Context, cfg *config.Configuration) (string, error) {
	auth, err := onedrive.StartAuthentication(ctx, cfg.OAuthConfig())
	if err != nil {
		return "", fmt.Errorf("starting login: %w", err)
	}
	err = sessionManager(cfg).SaveLogin(session.Login{
		URL:      auth.URL,
		State:    auth.State,
		Verifier: auth.Verifier,
	})
	if err != nil {
		return "", fmt.Errorf("saving login session: %w", err)
	}
	return auth.URL, nil
}

// PendingLogin returns the pending login, or nil.
func PendingLogin(cfg *config.Configuration) (*session.Login, error) {
	return sessionManager(cfg).LoadLogin()
}

// FinishLogin exchanges the authorization code found in redirected (the
// full redirect URL, or just the code) for a token and stores it.
func FinishLogin(ctx context.Context, cfg *config.Configuration, redirected string) error {
	mgr := sessionManager(cfg)
	pending, err := mgr.LoadLogin()
	if err != nil {
		return err
	}
	if pending == nil {
		return ErrNoPendingLogin
	}

	code, err := onedrive.ParseRedirect(redirected, pending.State)
	if err != nil {
		return err
	}
	token, err := onedrive.CompleteAuthentication(ctx, cfg.OAuthConfig(), code, pending.Verifier)
	if err != nil {
		return fmt.Errorf("completing login: %w", err)
	}
	if err := cfg.UpdateToken(*token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return mgr.DeleteLogin()
}
