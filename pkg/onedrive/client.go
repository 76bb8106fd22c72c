package onedrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Logger is the interface that the SDK uses for logging.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// DefaultLogger discards everything.
type DefaultLogger struct{}

func (DefaultLogger) Debugf(format string, args ...any) {}
func (DefaultLogger) Warnf(format string, args ...any)  {}

// HTTPConfig controls timeouts, retries and request pacing.
type HTTPConfig struct {
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	RequestsPerSecond float64
}

// DefaultHTTPConfig returns the configuration used when none is given.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:           DefaultTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		MaxRetryDelay:     DefaultMaxRetryDelay,
		RequestsPerSecond: DefaultRequestsPerSecond,
	}
}

// NewConfiguredHTTPClient returns a plain HTTP client with the configured timeout.
func NewConfiguredHTTPClient(config HTTPConfig) *http.Client {
	return &http.Client{Timeout: config.Timeout}
}

// Client is a Microsoft Graph client. It refreshes the OAuth token as needed,
// paces requests, and retries throttled or failed requests with backoff.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	httpConfig     HTTPConfig
	limiter        *rate.Limiter
	logger         Logger
	baseURL        string
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client authenticated with token. onNewToken is invoked
// whenever the token source hands out a refreshed token so it can be saved.
func NewClient(ctx context.Context, oauthConfig *OAuthConfig, token OAuthToken, onNewToken func(OAuthToken) error, httpConfig HTTPConfig, logger Logger) *Client {
	if logger == nil {
		logger = DefaultLogger{}
	}

	// The token endpoint gets the same timeout as Graph calls.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, NewConfiguredHTTPClient(httpConfig))

	nativeOAuthConfig := oauth2.Config(*oauthConfig)
	initial := oauth2.Token(token)
	source := &persistingTokenSource{
		source:     nativeOAuthConfig.TokenSource(ctx, &initial),
		onNewToken: onNewToken,
		lastToken:  &initial,
		logger:     logger,
	}

	httpClient := oauth2.NewClient(ctx, source)
	httpClient.Timeout = httpConfig.Timeout
	return NewClientFromHTTP(httpClient, httpConfig, logger)
}

// NewClientFromHTTP creates a client around an already authenticated HTTP client.
func NewClientFromHTTP(httpClient *http.Client, httpConfig HTTPConfig, logger Logger) *Client {
	if logger == nil {
		logger = DefaultLogger{}
	}

	limit := rate.Inf
	if httpConfig.RequestsPerSecond > 0 {
		limit = rate.Limit(httpConfig.RequestsPerSecond)
	}

	// Downloads go to pre-authenticated URLs and may run far longer than a
	// metadata call, so only the response headers are bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = httpConfig.Timeout

	return &Client{
		httpClient:     httpClient,
		downloadClient: &http.Client{Transport: transport},
		httpConfig:     httpConfig,
		limiter:        rate.NewLimiter(limit, 1),
		logger:         logger,
		baseURL:        customRootURL,
		sleep:          sleepContext,
	}
}

// persistingTokenSource wraps an oauth2.TokenSource and calls onNewToken
// whenever the access token changes.
type persistingTokenSource struct {
	source     oauth2.TokenSource
	onNewToken func(OAuthToken) error
	logger     Logger

	mu        sync.Mutex
	lastToken *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newToken, err := s.source.Token()
	if err != nil {
		return nil, err
	}

	if s.lastToken == nil || s.lastToken.AccessToken != newToken.AccessToken {
		s.lastToken = newToken
		if s.onNewToken != nil {
			// The token is valid in memory; a failed save only costs a refresh next run.
			if err := s.onNewToken(OAuthToken(*newToken)); err != nil {
				s.logger.Warnf("Failed to persist refreshed token: %v", err)
			}
		}
	}

	return newToken, nil
}

// apiCall performs an authenticated Graph request.
func (c *Client) apiCall(ctx context.Context, method, url, contentType string, body io.ReadSeeker) (*http.Response, error) {
	return c.do(ctx, c.httpClient, method, url, contentType, body)
}

// do sends the request, retrying throttling, server errors and network
// failures up to RetryAttempts times. A 401 is retried once so the token
// source can refresh. Any other status >= 400 is classified into a sentinel.
func (c *Client) do(ctx context.Context, client *http.Client, method, url, contentType string, body io.ReadSeeker) (*http.Response, error) {
	if client == nil {
		return nil, errors.New("HTTP client is nil, please provide a valid HTTP client")
	}

	retriedUnauthorized := false
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := seekToStart(body); err != nil {
			return nil, fmt.Errorf("rewinding request body for retry: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("creating request failed: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		c.logger.Debugf("%s %s (attempt %d)", method, url, attempt+1)
		res, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			classified := classifyTransportError(err)
			if !errors.Is(classified, ErrNetworkFailed) || attempt >= c.httpConfig.RetryAttempts {
				return nil, classified
			}
			delay := c.backoff(attempt, nil)
			c.logger.Debugf("Request to %s failed: %v; retrying in %s", url, err, delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if res.StatusCode == http.StatusUnauthorized && !retriedUnauthorized {
			retriedUnauthorized = true
			c.logger.Debugf("Received 401 Unauthorized, retrying once with a refreshed token")
			closeBodySafely(res.Body, c.logger, "unauthorized response")
			continue
		}

		if isRetryableStatus(res.StatusCode) && attempt < c.httpConfig.RetryAttempts {
			delay := c.backoff(attempt, res)
			c.logger.Debugf("Received %s from %s; retrying in %s", res.Status, url, delay)
			closeBodySafely(res.Body, c.logger, "retryable response")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if res.StatusCode >= http.StatusBadRequest {
			defer closeBodySafely(res.Body, c.logger, "error response")
			return nil, classifyResponse(res.StatusCode, res.Status, readErrorBody(res.Body))
		}
		return res, nil
	}
}

// backoff returns the delay before retry number attempt+1. A Retry-After
// header on res takes precedence over the exponential delay.
func (c *Client) backoff(attempt int, res *http.Response) time.Duration {
	if res != nil {
		if d, ok := parseRetryAfter(res.Header.Get("Retry-After"), time.Now()); ok {
			return d
		}
	}
	limit := c.httpConfig.MaxRetryDelay
	delay := c.httpConfig.RetryDelay
	for i := 0; i < attempt && (limit <= 0 || delay < limit); i++ {
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 509:
		return true
	}
	return false
}

// classifyTransportError maps token refresh failures to sentinels. Anything
// else is treated as a network failure.
func classifyTransportError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_request", "invalid_client", "invalid_grant",
			"unauthorized_client", "unsupported_grant_type",
			"invalid_scope", "access_denied", "interaction_required":
			return fmt.Errorf("%w: %v", ErrReauthRequired, err)
		case "server_error", "temporarily_unavailable":
			return fmt.Errorf("%w: %v", ErrRetryLater, err)
		default:
			return fmt.Errorf("other oauth2 error: %w", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailed, err)
}

// classifyResponse turns a Graph error response into a sentinel error. The
// Graph error code wins over the HTTP status when both are known.
func classifyResponse(statusCode int, status, body string) error {
	var graphError struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal([]byte(body), &graphError)
	code, message := graphError.Error.Code, graphError.Error.Message
	if message == "" {
		message = status
	}

	switch code {
	case "accessDenied":
		return fmt.Errorf("%w: %s", ErrAccessDenied, message)
	case "activityLimitReached", "serviceNotAvailable":
		return fmt.Errorf("%w: %s", ErrRetryLater, message)
	case "itemNotFound":
		return fmt.Errorf("%w: %s", ErrResourceNotFound, message)
	case "nameAlreadyExists":
		return fmt.Errorf("%w: %s", ErrConflict, message)
	case "quotaLimitReached":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, message)
	case "unauthenticated", "InvalidAuthenticationToken":
		return fmt.Errorf("%w: %s", ErrReauthRequired, message)
	case "invalidRange", "invalidRequest", "malwareDetected", "notAllowed",
		"notSupported", "resourceModified", "resyncRequired":
		return fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrReauthRequired, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAccessDenied, message)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %s", ErrResourceNotFound, message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, message)
	case http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, message)
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusNotAcceptable,
		http.StatusLengthRequired, http.StatusPreconditionFailed,
		http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType,
		http.StatusRequestedRangeNotSatisfiable, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	}
	if isRetryableStatus(statusCode) || statusCode == http.StatusNotImplemented {
		return fmt.Errorf("%w: %s", ErrRetryLater, message)
	}
	return fmt.Errorf("%w: HTTP %s: %s", ErrOperationFailed, status, message)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
