package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	onedrive.SetCustomLoginEndpoint(server.URL + "/")
	t.Cleanup(func() {
		onedrive.SetCustomLoginEndpoint("https://login.microsoftonline.com/")
		server.Close()
	})
	return server
}

// redirectReader answers the redirect prompt with the state of the login
// that was pending when the prompt was read.
type redirectReader struct {
	t    *testing.T
	cfg  *config.Configuration
	body io.Reader
}

func (r *redirectReader) Read(p []byte) (int, error) {
	if r.body == nil {
		pending, err := app.PendingLogin(r.cfg)
		require.NoError(r.t, err)
		require.NotNil(r.t, pending)
		r.body = strings.NewReader("http://localhost:53682/?code=abc&state=" + pending.State + "\n")
	}
	return r.body.Read(p)
}

func TestAuthLoginLogicInteractive(t *testing.T) {
	server := newTokenServer(t)
	cfg := newTestConfig(t)

	output := captureOutput(t, func() {
		err := authLoginLogic(context.Background(), cfg, "", &redirectReader{t: t, cfg: cfg})
		require.NoError(t, err)
	})

	assert.Contains(t, output, server.URL)
	assert.Contains(t, output, "Login successful.")
	assert.Equal(t, "new-access", cfg.Token().AccessToken)

	pendingLogin, err := app.PendingLogin(cfg)
	require.NoError(t, err)
	assert.Nil(t, pendingLogin)
}

func TestAuthLoginLogicDeferred(t *testing.T) {
	newTokenServer(t)
	cfg := newTestConfig(t)

	output := captureOutput(t, func() {
		err := authLoginLogic(context.Background(), cfg, "", strings.NewReader(""))
		assert.NoError(t, err)
	})
	assert.Contains(t, output, "auth login --redirect")
	assert.True(t, cfg.Token().IsZero())

	pending, err := app.PendingLogin(cfg)
	require.NoError(t, err)
	require.NotNil(t, pending)

	output = captureOutput(t, func() {
		assert.NoError(t, authStatusLogic(cfg))
	})
	assert.Contains(t, output, "not logged in")
	assert.Contains(t, output, "is pending")

	output = captureOutput(t, func() {
		err := authLoginLogic(context.Background(), cfg, "http://localhost:53682/?code=abc&state="+pending.State, nil)
		assert.NoError(t, err)
	})
	assert.Contains(t, output, "Login successful.")
	assert.Equal(t, "new-refresh", cfg.Token().RefreshToken)
}

func TestAuthLoginLogicStateMismatch(t *testing.T) {
	newTokenServer(t)
	cfg := newTestConfig(t)

	captureOutput(t, func() {
		require.NoError(t, authLoginLogic(context.Background(), cfg, "", strings.NewReader("")))
	})

	err := authLoginLogic(context.Background(), cfg, "http://localhost:53682/?code=abc&state=forged", nil)
	assert.ErrorIs(t, err, onedrive.ErrStateMismatch)
	assert.True(t, cfg.Token().IsZero())
}

func TestAuthLoginLogicAlreadyLoggedIn(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.UpdateToken(onedrive.OAuthToken{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}))

	output := captureOutput(t, func() {
		assert.NoError(t, authLoginLogic(context.Background(), cfg, "", strings.NewReader("")))
	})
	assert.Contains(t, output, "already logged in")
}

func TestAuthStatusAndLogoutLogic(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.UpdateToken(onedrive.OAuthToken{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}))

	output := captureOutput(t, func() {
		assert.NoError(t, authStatusLogic(cfg))
	})
	assert.Contains(t, output, "Logged in (private_onedrive)")

	output = captureOutput(t, func() {
		assert.NoError(t, authLogoutLogic(cfg, nil))
	})
	assert.Contains(t, output, "logged out")
	assert.True(t, cfg.Token().IsZero())
}
