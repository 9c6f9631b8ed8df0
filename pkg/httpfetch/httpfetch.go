// Package httpfetch implements the two network collaborators the facade
// expects its host to supply: a CRL document fetcher (pkg/crl.Fetcher)
// and a ranged acquisition fetcher (pkg/lcp.HTTPFetcher). Grounded on the
// teacher's pkg/health.HTTPChecker: a configured *http.Client plus
// context-aware request construction, generalized from a health probe to
// a GET-and-return-body client.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/readium/lcp-client-go/pkg/status"
)

// Client fetches CRL documents and acquisition resources over HTTP(S).
type Client struct {
	HTTP *http.Client
}

// New builds a Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// Fetch retrieves the full body at url, satisfying pkg/crl.Fetcher.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, status.Wrap(status.LicenseNetworkError, "build CRL request", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, status.Wrap(status.LicenseNetworkError, "fetch CRL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, status.New(status.LicenseNetworkError, fmt.Sprintf("CRL fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, status.Wrap(status.LicenseNetworkError, "read CRL body", err)
	}
	return body, nil
}

// AcquisitionFetcher adapts Client to pkg/lcp.HTTPFetcher. It is a
// distinct type from Client because the two fetch shapes (whole-body CRL
// fetch vs. ranged acquisition fetch) can't share one method name.
type AcquisitionFetcher struct {
	*Client
}

// Fetch opens a GET against url starting at rangeStart. resumed reports
// whether the server actually honored the Range header (a 206
// response); a 200 response means the server sent the whole resource
// from the start regardless of what was asked.
func (c AcquisitionFetcher) Fetch(ctx context.Context, url string, rangeStart int64) (io.ReadCloser, int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, false, status.Wrap(status.LicenseNetworkError, "build acquisition request", err)
	}
	if rangeStart > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, false, status.Wrap(status.LicenseNetworkError, "fetch acquisition resource", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, contentLength(resp), false, nil
	case http.StatusPartialContent:
		return resp.Body, contentLength(resp) + rangeStart, true, nil
	default:
		resp.Body.Close()
		return nil, 0, false, status.New(status.LicenseNetworkError, fmt.Sprintf("acquisition fetch returned status %d", resp.StatusCode))
	}
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return -1
}
