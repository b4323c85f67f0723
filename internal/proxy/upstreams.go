package proxy

import (
	"net/url"
	"strings"
)

type upstream struct {
	name string
	base *url.URL
}

func newUpstreams(cfgs []UpstreamConfig) (map[string]*upstream, error) {
	out := make(map[string]*upstream, len(cfgs))
	for _, c := range cfgs {
		u, err := url.Parse(c.URL)
		if err != nil {
			return nil, err
		}
		out[c.Name] = &upstream{name: c.Name, base: u}
	}
	return out, nil
}

// target rewrites the inbound URL onto the upstream, keeping path and
// query. A base path on the upstream URL is prefixed.
func (u *upstream) target(in *url.URL) *url.URL {
	out := *u.base
	out.Path = joinPath(u.base.Path, in.Path)
	if in.RawPath != "" || u.base.RawPath != "" {
		out.RawPath = joinPath(u.base.EscapedPath(), in.EscapedPath())
	}
	out.RawQuery = in.RawQuery
	if u.base.RawQuery != "" && in.RawQuery != "" {
		out.RawQuery = u.base.RawQuery + "&" + in.RawQuery
	} else if u.base.RawQuery != "" {
		out.RawQuery = u.base.RawQuery
	}
	out.Fragment = ""
	return &out
}

func joinPath(a, b string) string {
	if a == "" {
		if b == "" {
			return "/"
		}
		return b
	}
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
