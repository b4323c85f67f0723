package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	headerSynapse   = "X-Synapse"
	headerRequestID = "X-Request-Id"
	viaName         = "synapse"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHop drops headers that only apply to a single connection,
// including any named in Connection. Applied in both directions.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func addVia(h http.Header, protoMajor, protoMinor int) {
	version := fmt.Sprintf("%d.%d", protoMajor, protoMinor)
	if protoMajor >= 2 {
		version = fmt.Sprintf("%d", protoMajor)
	}
	via := version + " " + viaName
	if prior := h.Values("Via"); len(prior) > 0 {
		via = strings.Join(prior, ", ") + ", " + via
	}
	h.Set("Via", via)
}

// setForwarded fills in the X-Forwarded-* headers and a request id on the
// outbound request headers.
func setForwarded(out http.Header, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := out.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}
		out.Set("X-Forwarded-For", ip)
	}
	if out.Get("X-Forwarded-Host") == "" {
		out.Set("X-Forwarded-Host", in.Host)
	}
	if out.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if in.TLS != nil {
			proto = "https"
		}
		out.Set("X-Forwarded-Proto", proto)
	}
	if out.Get(headerRequestID) == "" {
		out.Set(headerRequestID, uuid.NewString())
	}
}

func setSynapseHeaders(h http.Header, kind string) {
	if kind != "" {
		h.Set(headerSynapse, kind)
	}
	// Browsers only let JS read custom headers that are exposed.
	ensureExposedHeader(h, headerSynapse)
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, headerSynapse) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
