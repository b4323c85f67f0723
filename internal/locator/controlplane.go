package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var retriableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// controlPlaneClient talks to the mapping endpoint of the control plane.
type controlPlaneClient struct {
	baseURL        *url.URL
	limit          int
	retries        int
	retryBaseDelay time.Duration
	requestTimeout time.Duration
	httpClient     *http.Client

	sleep func(ctx context.Context, d time.Duration) error
}

func newControlPlaneClient(cfg ControlPlaneConfig, httpClient *http.Client) (*controlPlaneClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, configErr("control_plane.url", "%v", err)
	}
	return &controlPlaneClient{
		baseURL:        u,
		limit:          cfg.Limit,
		retries:        cfg.retries,
		retryBaseDelay: cfg.retryBaseDelayDur,
		requestTimeout: cfg.requestTimeoutDur,
		httpClient:     httpClient,
		sleep:          sleepCtx,
	}, nil
}

// FetchPage requests one bootstrap page. A zero cursor requests the first
// page.
func (c *controlPlaneClient) FetchPage(ctx context.Context, cursor *Cursor) (Page, error) {
	q := url.Values{}
	if cursor != nil {
		q.Set("cursor", cursor.Encode())
	}
	q.Set("limit", strconv.Itoa(c.limit))

	var wire pageWire
	if err := c.get(ctx, q, c.retries, &wire); err != nil {
		return Page{}, err
	}
	for _, r := range wire.Data {
		if err := r.validate(); err != nil {
			return Page{}, err
		}
	}

	page := Page{
		Rows:       wire.Data,
		HasMore:    wire.Metadata.HasMore,
		Localities: wire.Metadata.CellToLocality,
	}
	if wire.Metadata.Cursor == nil || *wire.Metadata.Cursor == "" {
		page.Next = SentinelCursor(0)
		if page.HasMore {
			return Page{}, fmt.Errorf("%w: has_more without a cursor", ErrMalformedResponse)
		}
		return page, nil
	}
	next, err := DecodeCursor(*wire.Metadata.Cursor)
	if err != nil {
		return Page{}, err
	}
	page.Next = next
	return page, nil
}

// FetchSince returns rows updated strictly after the given epoch second.
// retry controls whether retriable failures are retried; on-demand
// refreshes pass false so they stay within their timeout.
func (c *controlPlaneClient) FetchSince(ctx context.Context, after int64, retry bool) ([]Row, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))

	retries := 0
	if retry {
		retries = c.retries
	}
	var wire incrementalWire
	if err := c.get(ctx, q, retries, &wire); err != nil {
		return nil, err
	}
	for _, r := range wire.Rows {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return wire.Rows, nil
}

func (c *controlPlaneClient) get(ctx context.Context, q url.Values, retries int, v any) error {
	u := *c.baseURL
	merged := u.Query()
	for k, vs := range q {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()
	target := u.String()

	var lastErr error
	for attempt := 0; ; attempt++ {
		retriable, err := c.getOnce(ctx, target, v)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable || attempt >= retries {
			break
		}
		delay := c.retryBaseDelay << attempt
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}
	return lastErr
}

func (c *controlPlaneClient) getOnce(ctx context.Context, target string, v any) (retriable bool, _ error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return true, fmt.Errorf("%w: %v", ErrControlPlaneUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return retriableStatuses[resp.StatusCode], fmt.Errorf("%w: unexpected status %d: %s",
			ErrControlPlaneUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if ctx.Err() != nil {
			return true, fmt.Errorf("%w: reading body: %v", ErrControlPlaneUnavailable, err)
		}
		return false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
