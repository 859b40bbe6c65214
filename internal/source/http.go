package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPClient is used by OpenURL when no client is given.
var DefaultHTTPClient = &http.Client{Timeout: 5 * time.Minute}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// OpenURL streams a JSON Lines feed, e.g. a crawler's feed export, from an
// HTTP endpoint. The source is named after the last path element of the URL.
func OpenURL(ctx context.Context, client *http.Client, feedURL string) (*JSONLines, error) {
	body, name, err := FetchURL(ctx, client, feedURL)
	if err != nil {
		return nil, err
	}
	return NewJSONLines(name, body), nil
}

// FetchURL requests feedURL and returns the response body of a 200 response
// together with the default source name for it. The caller closes the body.
func FetchURL(ctx context.Context, client *http.Client, feedURL string) (io.ReadCloser, string, error) {
	if client == nil {
		client = DefaultHTTPClient
	}

	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, "", fmt.Errorf("parsing feed URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "fuelscraper")
	req.Header.Set("Accept", "application/x-ndjson, application/jsonl, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close() //nolint:errcheck
		return nil, "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = u.Host
	}

	return resp.Body, name, nil
}
