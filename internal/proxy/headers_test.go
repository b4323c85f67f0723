package proxy

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive, custom")
	h.Set("Content-Type", "application/json")
	h.Set("cusTOM", "some-value")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("Proxy-Authorization", "Basic x")

	removeHopByHop(h)

	assert.Equal(t, http.Header{"Content-Type": {"application/json"}}, h)
}

func TestAddVia(t *testing.T) {
	h := http.Header{}
	addVia(h, 1, 1)
	assert.Equal(t, "1.1 synapse", h.Get("Via"))

	h = http.Header{"Via": {"1.0 edge"}}
	addVia(h, 2, 0)
	assert.Equal(t, "1.0 edge, 2 synapse", h.Get("Via"))
}

func TestEnsureExposedHeader(t *testing.T) {
	h := http.Header{}
	setSynapseHeaders(h, "proxied")
	assert.Equal(t, "X-Synapse", h.Get("Access-Control-Expose-Headers"))

	h = http.Header{}
	h.Add("Access-Control-Expose-Headers", "X-Total")
	h.Add("Access-Control-Expose-Headers", "x-synapse")
	setSynapseHeaders(h, "proxied")
	assert.Equal(t, []string{"X-Total", "x-synapse"}, h.Values("Access-Control-Expose-Headers"))

	h = http.Header{"Access-Control-Expose-Headers": {"X-Total"}}
	ensureExposedHeader(h, "X-Synapse")
	assert.Equal(t, "X-Total, X-Synapse", h.Get("Access-Control-Expose-Headers"))
}

func TestCopyHeadersSkipsHostAndSynapse(t *testing.T) {
	src := http.Header{"Host": {"a"}, "X-Synapse": {"spoofed"}, "Accept": {"*/*"}}
	dst := http.Header{}
	copyHeaders(dst, src)
	assert.Equal(t, http.Header{"Accept": {"*/*"}}, dst)
}

func TestUpstreamTarget(t *testing.T) {
	cases := []struct {
		base, in, want string
	}{
		{"http://us1.internal", "/api/0/?a=1", "http://us1.internal/api/0/?a=1"},
		{"http://us1.internal/", "/api/0/", "http://us1.internal/api/0/"},
		{"http://us1.internal/base", "/api/0/", "http://us1.internal/base/api/0/"},
		{"http://us1.internal/base/?k=v", "/x?a=1", "http://us1.internal/base/x?k=v&a=1"},
	}
	for _, tc := range cases {
		base, _ := url.Parse(tc.base)
		in, _ := url.Parse(tc.in)
		up := &upstream{name: "u", base: base}
		assert.Equal(t, tc.want, up.target(in).String(), tc.base+" + "+tc.in)
	}
}
