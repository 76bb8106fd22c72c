package onedrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Download opens the content of file. The pre-authenticated download URL is
// used when the listing returned one; otherwise the authenticated content
// endpoint is requested. A pre-authenticated URL that has expired or been
// revoked (401, 403, 404 or 410) is retried once through the content
// endpoint. The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, file RemoteFile) (io.ReadCloser, error) {
	var (
		body io.ReadCloser
		err  error
	)
	switch {
	case file.DownloadURL != "":
		c.logger.Debugf("Downloading %q from pre-authenticated URL", file.Path)
		body, err = c.open(ctx, c.downloadClient, file.DownloadURL)
		if err != nil && file.ContentURL != "" && isStaleDownloadURL(err) {
			c.logger.Debugf("Pre-authenticated URL for %q was rejected (%v), using content endpoint", file.Path, err)
			body, err = c.open(ctx, c.httpClient, file.ContentURL)
		}
	case file.ContentURL != "":
		c.logger.Debugf("Downloading %q from content endpoint", file.Path)
		body, err = c.open(ctx, c.httpClient, file.ContentURL)
	default:
		return nil, fmt.Errorf("%w: no download location for %q", ErrInvalidRequest, file.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("downloading %q: %w", file.Path, err)
	}
	return body, nil
}

func isStaleDownloadURL(err error) bool {
	return errors.Is(err, ErrReauthRequired) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrResourceNotFound)
}

func (c *Client) open(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	res, err := c.do(ctx, client, "GET", url, "", nil)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}
