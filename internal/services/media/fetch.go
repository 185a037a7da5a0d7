package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// Browser user agents sent to providers that reject unknown clients.
const (
	desktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Safari/605.1.15"
	mobileUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1"
)

// HTTPStatusError reports a non-2xx answer from a provider.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// NewHTTPClient builds the client a scraper talks through. transport is
// normally a *limitedhttp.Client; jar may be nil for providers without
// login cookies.
func NewHTTPClient(transport http.RoundTripper, jar http.CookieJar) *http.Client {
	return &http.Client{Transport: transport, Jar: jar}
}

// fetcher issues provider API calls and maps failures onto the shared
// error kinds.
type fetcher struct {
	provider  models.Provider
	client    *http.Client
	userAgent string
	logger    *utils.Logger
}

func (f *fetcher) newRequest(ctx context.Context, op, rawURL string, query url.Values) (*http.Request, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.NewProviderError(f.provider, op, models.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	return req, nil
}

// getJSON GETs rawURL with query and decodes the body into v.
func (f *fetcher) getJSON(ctx context.Context, op, rawURL string, query url.Values, v any) error {
	req, err := f.newRequest(ctx, op, rawURL, query)
	if err != nil {
		return err
	}
	return f.doJSON(op, req, v)
}

func (f *fetcher) doJSON(op string, req *http.Request, v any) error {
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return models.Upstream(f.provider, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return models.Upstream(f.provider, op, &HTTPStatusError{
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		f.logger.Debug("Failed to decode provider response", "op", op, "url", req.URL.Redacted(), "error", err)
		return models.Malformed(f.provider, op, err)
	}
	return nil
}

// coverURL adds a scheme to protocol-relative image links.
func coverURL(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
