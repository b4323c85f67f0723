package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"synapse/internal/locator"
	"synapse/internal/telemetry"
)

type Config struct {
	Listener      locator.Listener `yaml:"listener"`
	AdminListener locator.Listener `yaml:"admin_listener"`

	Logging struct {
		AccessLog     bool   `yaml:"access_log"`
		LogStatsEvery string `yaml:"log_stats_every"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`

	Tracing telemetry.Config `yaml:"tracing"`

	Stream struct {
		ChunkSize string `yaml:"chunk_size"`
		// Always streams every response, not only text/event-stream.
		Always bool `yaml:"always"`

		chunkSize int64
	} `yaml:"stream"`

	UpstreamTimeout string `yaml:"upstream_timeout"`

	Upstreams []UpstreamConfig `yaml:"upstreams"`
	Routes    []Route          `yaml:"routes"`
	Locator   LocatorConfig    `yaml:"locator"`

	upstreamTimeoutDur time.Duration
}

type UpstreamConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LocatorConfig selects where resolver routes look identifiers up: an
// in-process Locator (the embedded locator.Config) or a remote locator
// reached over HTTP.
type LocatorConfig struct {
	Type           string `yaml:"type"`
	URL            string `yaml:"url"`
	locator.Config `yaml:",inline"`

	needed bool
}

const (
	LocatorInProcess = "in_process"
	LocatorURL       = "url"
)

// Needed reports whether any route resolves through the locator.
func (c LocatorConfig) Needed() bool { return c.needed }

type Route struct {
	Match  Match  `yaml:"match"`
	Action Action `yaml:"action"`

	// compiled
	index    int
	host     hostMatcher
	path     pathPattern
	methods  map[string]struct{}
	kind     actionKind
	resolver resolverKind
	handler  handlerKind
}

type Match struct {
	Host    string   `yaml:"host"`
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
}

// Action is exactly one of: a static upstream (To), a resolver with its
// cell mapping, or a built-in handler.
type Action struct {
	To             string            `yaml:"to"`
	Resolver       string            `yaml:"resolver"`
	Default        string            `yaml:"default"`
	CellToUpstream map[string]string `yaml:"cell_to_upstream"`
	Handler        string            `yaml:"handler"`
}

type actionKind int

const (
	actionStatic actionKind = iota
	actionResolver
	actionHandler
)

// ConfigError is a fatal startup error in the proxy configuration.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("proxy config: %s: %s", e.Field, e.Msg)
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes and validates a YAML proxy config. Any error leaves
// nothing half-loaded: the caller gets either a fully compiled Config or an
// error.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) compile() error {
	if c.Listener.Host == "" {
		c.Listener.Host = "0.0.0.0"
	}
	if c.Listener.Port == 0 {
		c.Listener.Port = 3000
	}
	if c.AdminListener.Host == "" {
		c.AdminListener.Host = "0.0.0.0"
	}
	if c.AdminListener.Port == 0 {
		c.AdminListener.Port = 3001
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "synapse-proxy"
	}

	if c.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(c.Logging.LogStatsEvery)
		if err != nil {
			return configErr("logging.log_stats_every", "%v", err)
		}
		c.Logging.logStatsEveryDur = d
	}

	chunk := c.Stream.ChunkSize
	if chunk == "" {
		chunk = "32kb"
	}
	n, err := parseBytes(chunk)
	if err != nil {
		return configErr("stream.chunk_size", "%v", err)
	}
	if n <= 0 {
		return configErr("stream.chunk_size", "must be positive")
	}
	c.Stream.chunkSize = n

	c.upstreamTimeoutDur = 30 * time.Second
	if c.UpstreamTimeout != "" {
		d, err := time.ParseDuration(c.UpstreamTimeout)
		if err != nil || d <= 0 {
			return configErr("upstream_timeout", "invalid duration %q", c.UpstreamTimeout)
		}
		c.upstreamTimeoutDur = d
	}

	names := make(map[string]struct{}, len(c.Upstreams))
	for i, u := range c.Upstreams {
		field := fmt.Sprintf("upstreams[%d]", i)
		if u.Name == "" {
			return configErr(field+".name", "is required")
		}
		if _, dup := names[u.Name]; dup {
			return configErr(field+".name", "duplicate upstream %q", u.Name)
		}
		names[u.Name] = struct{}{}
		pu, err := url.Parse(u.URL)
		if err != nil || pu.Scheme == "" || pu.Host == "" {
			return configErr(field+".url", "invalid url %q", u.URL)
		}
		if pu.Scheme != "http" && pu.Scheme != "https" {
			return configErr(field+".url", "unsupported scheme %q", pu.Scheme)
		}
	}

	if len(c.Routes) == 0 {
		return configErr("routes", "at least one route is required")
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		r.index = i
		if err := r.compile(fmt.Sprintf("routes[%d]", i), names); err != nil {
			return err
		}
		if r.kind == actionResolver && r.resolver.usesLocator() {
			c.Locator.needed = true
		}
	}

	if c.Locator.needed {
		if err := c.Locator.compile(); err != nil {
			return err
		}
		for i, r := range c.Routes {
			if r.kind != actionResolver || !r.resolver.usesLocator() {
				continue
			}
			if want := r.resolver.mode(); want != c.Locator.Mode {
				return configErr(fmt.Sprintf("routes[%d].action.resolver", i),
					"%s needs a locator in %q mode, locator.mode is %q", r.resolver, want, c.Locator.Mode)
			}
		}
	}
	return nil
}

func (l *LocatorConfig) compile() error {
	switch l.Type {
	case "", LocatorInProcess:
		l.Type = LocatorInProcess
		if err := l.Config.Compile(); err != nil {
			var lerr *locator.ConfigError
			if errors.As(err, &lerr) {
				return configErr("locator."+lerr.Field, "%s", lerr.Msg)
			}
			return configErr("locator", "%v", err)
		}
	case LocatorURL:
		u, err := url.Parse(l.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return configErr("locator.url", "invalid url %q", l.URL)
		}
		switch l.Mode {
		case "":
			l.Mode = locator.ModeOrganization
		case locator.ModeOrganization, locator.ModeProjectKey:
		default:
			return configErr("locator.mode", "unknown mode %q", l.Mode)
		}
	default:
		return configErr("locator.type", "unknown type %q (want %q or %q)", l.Type, LocatorInProcess, LocatorURL)
	}
	return nil
}

func (r *Route) compile(field string, upstreams map[string]struct{}) error {
	var err error
	if r.host, err = parseHost(r.Match.Host); err != nil {
		return configErr(field+".match.host", "%v", err)
	}
	if r.path, err = parsePathPattern(r.Match.Path); err != nil {
		return configErr(field+".match.path", "%v", err)
	}
	if r.methods, err = parseMethods(r.Match.Methods); err != nil {
		return configErr(field+".match.methods", "%v", err)
	}

	a := r.Action
	set := 0
	for _, s := range []string{a.To, a.Resolver, a.Handler} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return configErr(field+".action", "exactly one of to, resolver or handler is required")
	}

	knownUpstream := func(sub, name string) error {
		if _, ok := upstreams[name]; !ok {
			return configErr(field+".action."+sub, "unknown upstream %q", name)
		}
		return nil
	}

	switch {
	case a.To != "":
		r.kind = actionStatic
		return knownUpstream("to", a.To)

	case a.Handler != "":
		r.kind = actionHandler
		if r.handler, err = parseHandler(a.Handler); err != nil {
			return configErr(field+".action.handler", "%v", err)
		}
		return nil
	}

	r.kind = actionResolver
	if r.resolver, err = parseResolver(a.Resolver); err != nil {
		return configErr(field+".action.resolver", "%v", err)
	}
	if !r.path.hasParam() {
		return configErr(field+".match.path", "resolver %s needs a {param} segment in the path", r.resolver)
	}
	if len(a.CellToUpstream) == 0 && a.Default == "" {
		return configErr(field+".action", "resolver route needs cell_to_upstream or default")
	}
	for cell, name := range a.CellToUpstream {
		if strings.TrimSpace(cell) == "" {
			return configErr(field+".action.cell_to_upstream", "empty cell name")
		}
		if err := knownUpstream("cell_to_upstream", name); err != nil {
			return err
		}
	}
	if a.Default != "" {
		return knownUpstream("default", a.Default)
	}
	return nil
}
