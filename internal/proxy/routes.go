package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// hostMatcher accepts any host, one exact host, or any subdomain of a
// suffix ("*.example.com").
type hostMatcher struct {
	any    bool
	exact  string
	suffix string
}

func parseHost(expr string) (hostMatcher, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	switch {
	case expr == "" || expr == "*":
		return hostMatcher{any: true}, nil
	case strings.HasPrefix(expr, "*."):
		if len(expr) == 2 || strings.Contains(expr[2:], "*") {
			return hostMatcher{}, fmt.Errorf("invalid wildcard host %q", expr)
		}
		return hostMatcher{suffix: expr[1:]}, nil
	case strings.Contains(expr, "*"):
		return hostMatcher{}, fmt.Errorf("wildcard is only allowed as the first label: %q", expr)
	}
	return hostMatcher{exact: expr}, nil
}

func (m hostMatcher) Match(host string) bool {
	if m.any {
		return true
	}
	host = strings.ToLower(stripPort(host))
	if m.suffix != "" {
		return strings.HasSuffix(host, m.suffix) && len(host) > len(m.suffix)
	}
	return host == m.exact
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// pathPattern matches slash-separated segments. One segment may be a
// dynamic "{name}" whose value is captured, and a final "*" accepts any
// remaining segments.
type pathPattern struct {
	any       bool
	segments  []string
	param     int
	paramName string
	splat     bool
}

func parsePathPattern(expr string) (pathPattern, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return pathPattern{any: true, param: -1}, nil
	}
	if !strings.HasPrefix(expr, "/") {
		return pathPattern{}, fmt.Errorf("must start with /: %q", expr)
	}

	p := pathPattern{param: -1}
	segs := splitPath(expr)
	for i, seg := range segs {
		switch {
		case seg == "*":
			if i != len(segs)-1 {
				return pathPattern{}, fmt.Errorf("* must be the last segment: %q", expr)
			}
			p.splat = true
			continue
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if name == "" || strings.ContainsAny(name, "{}") {
				return pathPattern{}, fmt.Errorf("invalid parameter %q", seg)
			}
			if p.param >= 0 {
				return pathPattern{}, fmt.Errorf("only one {param} segment is supported: %q", expr)
			}
			p.param = i
			p.paramName = name
		case strings.ContainsAny(seg, "{}*"):
			return pathPattern{}, fmt.Errorf("invalid segment %q", seg)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

func (p pathPattern) hasParam() bool { return p.param >= 0 }

// Match reports whether path matches and returns the captured parameter
// value, if the pattern has one.
func (p pathPattern) Match(path string) (string, bool) {
	if p.any {
		return "", true
	}
	segs := splitPath(path)
	if p.splat {
		if len(segs) < len(p.segments) {
			return "", false
		}
	} else if len(segs) != len(p.segments) {
		return "", false
	}

	var value string
	for i, want := range p.segments {
		if i == p.param {
			if segs[i] == "" {
				return "", false
			}
			value = segs[i]
			continue
		}
		if segs[i] != want {
			return "", false
		}
	}
	return value, true
}

// splitPath splits on "/" ignoring the leading slash and one trailing
// slash. "/" yields no segments.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parseMethods(methods []string) (map[string]struct{}, error) {
	if len(methods) == 0 {
		return nil, nil
	}
	out := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			return nil, fmt.Errorf("empty method")
		}
		if m == "ALL" {
			return nil, nil
		}
		out[m] = struct{}{}
	}
	return out, nil
}

// Matches reports whether r satisfies the route's host, path and method
// predicates, and returns the captured path parameter.
func (rt *Route) Matches(r *http.Request) (string, bool) {
	if rt.methods != nil {
		if _, ok := rt.methods[r.Method]; !ok {
			return "", false
		}
	}
	if !rt.host.Match(r.Host) {
		return "", false
	}
	return rt.path.Match(r.URL.Path)
}

// matchRoute returns the first route accepting r. It depends only on the
// route list and the request.
func matchRoute(routes []Route, r *http.Request) (*Route, string) {
	for i := range routes {
		rt := &routes[i]
		if value, ok := rt.Matches(r); ok {
			return rt, value
		}
	}
	return nil, ""
}
