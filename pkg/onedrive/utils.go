package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// closeBodySafely closes an HTTP response body and logs any error.
func closeBodySafely(body io.Closer, logger Logger, operation string) {
	if err := body.Close(); err != nil {
		logger.Warnf("Failed to close %s body: %v", operation, err)
	}
}

// seekToStart resets a ReadSeeker to the beginning for retry operations.
func seekToStart(body io.ReadSeeker) error {
	if body == nil {
		return nil
	}
	_, err := body.Seek(0, io.SeekStart)
	return err
}

// readErrorBody reads and returns the error body from an HTTP response.
func readErrorBody(body io.Reader) string {
	if body == nil {
		return ""
	}
	errorBody, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	return string(errorBody)
}

// getJSON performs a GET and decodes the JSON response into dest.
func (c *Client) getJSON(ctx context.Context, apiURL string, dest any, operation string) error {
	res, err := c.apiCall(ctx, "GET", apiURL, "", nil)
	if err != nil {
		return err
	}
	defer closeBodySafely(res.Body, c.logger, operation)

	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", ErrDecodingFailed, operation, err)
	}
	return nil
}

// page is the envelope of every paged Graph collection.
type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// collectAllPages follows @odata.nextLink until the collection is exhausted.
func collectAllPages[T any](ctx context.Context, c *Client, initialURL, operation string) ([]T, error) {
	var all []T
	currentURL := initialURL
	for currentURL != "" {
		var p page[T]
		if err := c.getJSON(ctx, currentURL, &p, operation); err != nil {
			return nil, err
		}
		all = append(all, p.Value...)
		currentURL = p.NextLink
	}
	return all, nil
}

// escapePath escapes each segment of a "/"-separated path for use in a
// Graph path-based address, keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
