package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client resolves identifiers through a remote locator's HTTP API. It
// satisfies the same lookup contract as Locator.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, configErr("url", "invalid locator url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, httpClient: httpClient}, nil
}

func (c *Client) Lookup(ctx context.Context, id string) (string, error) {
	u := *c.baseURL
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("locator request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNotFound
	case http.StatusServiceUnavailable:
		return "", ErrNotReady
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("locator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding locator response: %w", err)
	}
	cell, ok := body[id]
	if !ok || cell == "" {
		return "", fmt.Errorf("locator response has no cell for %q", id)
	}
	return cell, nil
}

// Ready always reports true; readiness of the remote locator surfaces as
// ErrNotReady on lookup.
func (c *Client) Ready() bool { return true }
