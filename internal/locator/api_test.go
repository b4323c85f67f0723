package locator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorAPI(t *testing.T) {
	cp := &fakeControlPlane{rows: []Row{{ID: "42", Cell: "us2", UpdatedAt: 1}}}
	cpSrv := httptest.NewServer(cp)
	defer cpSrv.Close()

	l := newTestLocator(t, testConfig(t, cpSrv.URL, "1h"), nil)
	srv := httptest.NewServer(l.ServerHandler())
	defer srv.Close()

	get := func(path string) (*http.Response, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return resp, buf.String()
	}

	resp, _ := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = get("/locator?id=42")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	startLocator(t, l)
	waitReady(t, l)

	resp, body := get("/locator?id=42")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"42":"us2"}`, body)

	resp, _ = get("/locator?id=7")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get("/locator")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get("/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "synapse_locator_lookups_total")
}

func TestClientAgainstAPI(t *testing.T) {
	cp := &fakeControlPlane{rows: []Row{{ID: "42", Cell: "us2", UpdatedAt: 1}}}
	cpSrv := httptest.NewServer(cp)
	defer cpSrv.Close()

	l := newTestLocator(t, testConfig(t, cpSrv.URL, "1h"), nil)
	srv := httptest.NewServer(l.ServerHandler())
	defer srv.Close()

	c, err := NewClient(srv.URL+"/locator", nil)
	require.NoError(t, err)
	assert.True(t, c.Ready())

	ctx := context.Background()
	_, err = c.Lookup(ctx, "42")
	assert.ErrorIs(t, err, ErrNotReady)

	startLocator(t, l)
	waitReady(t, l)

	cell, err := c.Lookup(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "us2", cell)

	_, err = c.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url", nil)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
