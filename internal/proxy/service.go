// Package proxy is the synapse routing engine: it matches requests against
// an ordered route table, resolves dynamic routes to a cell through a
// locator, and forwards or streams the request to the chosen upstream.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"synapse/internal/locator"
	"synapse/internal/ratelog"
	"synapse/internal/telemetry"
)

// statusClientClosed is logged and counted when the client went away
// before a response could be produced. Nobody reads it.
const statusClientClosed = 499

type Service struct {
	cfg Config

	routes    []Route
	upstreams map[string]*upstream
	locator   CellLocator

	httpClient *http.Client

	stopCh chan struct{}
	wg     sync.WaitGroup

	configLog   *ratelog.Logger
	locatorLog  *ratelog.Logger
	upstreamLog *ratelog.Logger

	stats *statsCollector
}

// NewService builds the proxy. loc may be nil when no route resolves
// through the locator.
func NewService(cfg Config, loc CellLocator) (*Service, error) {
	if cfg.Locator.Needed() && loc == nil {
		return nil, fmt.Errorf("proxy: routes use a locator but none was provided")
	}
	ups, err := newUpstreams(cfg.Upstreams)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.upstreamTimeoutDur
	transport.DisableCompression = true
	client := telemetry.InstrumentClient(&http.Client{
		Transport: transport,
		// redirects are the client's business
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})

	s := &Service{
		cfg:         cfg,
		routes:      cfg.Routes,
		upstreams:   ups,
		locator:     loc,
		httpClient:  client,
		stopCh:      make(chan struct{}),
		configLog:   ratelog.New(time.Minute),
		locatorLog:  ratelog.New(10 * time.Second),
		upstreamLog: ratelog.New(10 * time.Second),
	}

	if cfg.Logging.logStatsEveryDur > 0 {
		s.stats = newStatsCollector()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}

	return s, nil
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// Handler serves proxied traffic.
func (s *Service) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.handle)
	if s.cfg.Logging.AccessLog {
		h = accessLog(h)
	}
	return telemetry.HTTPMiddleware("synapse.proxy")(h)
}

// Ready reports whether resolver routes can be served.
func (s *Service) Ready() bool {
	return s.locator == nil || s.locator.Ready()
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := s.dispatch(w, r)
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if s.stats != nil {
		s.stats.ObserveOutcome(outcome)
	}
}

func (s *Service) dispatch(w http.ResponseWriter, r *http.Request) string {
	route, value := matchRoute(s.routes, r)
	if route == nil {
		return s.fail(w, http.StatusNotFound, "no-route")
	}

	switch route.kind {
	case actionHandler:
		return s.serveHandler(w, route.handler)
	case actionStatic:
		return s.proxyPass(w, r, s.upstreams[route.Action.To])
	}

	up, kind, status := s.resolveUpstream(r.Context(), route, value)
	if up == nil {
		return s.fail(w, status, kind)
	}
	return s.proxyPass(w, r, up)
}

// resolveUpstream picks the upstream for a resolver route. When it cannot,
// it returns the X-Synapse kind and status to fail the request with.
func (s *Service) resolveUpstream(ctx context.Context, route *Route, value string) (*upstream, string, int) {
	cell, err := route.resolver.resolve(ctx, s.locator, value)

	var (
		result string
		kind   string
		status int
	)
	switch {
	case err == nil:
		if name, ok := route.Action.CellToUpstream[cell]; ok {
			resolutionsTotal.WithLabelValues(route.resolver.String(), "hit").Inc()
			return s.upstreams[name], "", 0
		}
		if route.resolver.usesLocator() {
			s.configLog.Printf("proxy: routes[%d]: cell %q (for %q) has no cell_to_upstream entry", route.index, cell, value)
			result, kind, status = "unmapped_cell", "bad-gateway", http.StatusBadGateway
		} else {
			result, kind, status = "miss", "unresolvable", http.StatusMisdirectedRequest
		}
	case errors.Is(err, locator.ErrNotFound), errors.Is(err, locator.ErrLocalityMismatch):
		result, kind, status = "miss", "unresolvable", http.StatusMisdirectedRequest
	case errors.Is(err, locator.ErrNotReady):
		result, kind, status = "not_ready", "not-ready", http.StatusServiceUnavailable
	case ctx.Err() != nil:
		resolutionsTotal.WithLabelValues(route.resolver.String(), "canceled").Inc()
		return nil, "client-closed", statusClientClosed
	default:
		s.locatorLog.Printf("proxy: %s(%q): %v", route.resolver, value, err)
		result, kind, status = "error", "bad-gateway", http.StatusBadGateway
	}
	resolutionsTotal.WithLabelValues(route.resolver.String(), result).Inc()

	if route.Action.Default != "" {
		return s.upstreams[route.Action.Default], "", 0
	}
	return nil, kind, status
}

func (s *Service) serveHandler(w http.ResponseWriter, h handlerKind) string {
	setSynapseHeaders(w.Header(), "handler")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h == handlerReady && !s.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
		return "handler"
	}
	_, _ = w.Write([]byte("ok\n"))
	return "handler"
}

func (s *Service) fail(w http.ResponseWriter, status int, kind string) string {
	setSynapseHeaders(w.Header(), kind)
	msg := http.StatusText(status)
	if msg == "" {
		msg = kind
	}
	http.Error(w, msg, status)
	return kind
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			rss := "n/a"
			if b, ok := processRSSBytes(); ok {
				rss = formatBytes(b)
			}
			log.Printf(
				"Routed: %d requests [%s], Relayed: %s (max %s, %d streamed), RSS: %s",
				ss.Requests,
				ss.outcomeSummary(),
				formatBytes(ss.BodyBytes),
				formatBytes(ss.MaxBody),
				ss.Streams,
				rss,
			)
		}
	}
}
