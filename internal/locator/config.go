package locator

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"synapse/internal/telemetry"
)

// Config configures an in-process Locator. Duration fields are strings in
// YAML ("10s", "500ms") and are compiled by Compile.
type Config struct {
	Mode                  Mode                `yaml:"mode"`
	ControlPlane          ControlPlaneConfig  `yaml:"control_plane"`
	BackupRouteStore      BackupConfig        `yaml:"backup_route_store"`
	NegativeCache         NegativeCacheConfig `yaml:"negative_cache"`
	RefreshTimeout        string              `yaml:"refresh_timeout"`
	LocalityToDefaultCell map[string]string   `yaml:"locality_to_default_cell"`

	// compiled
	refreshTimeoutDur time.Duration
}

type ControlPlaneConfig struct {
	URL              string `yaml:"url"`
	Limit            int    `yaml:"limit"`
	PollInterval     string `yaml:"poll_interval"`
	RequestTimeout   string `yaml:"request_timeout"`
	Retries          *int   `yaml:"retries"`
	RetryBaseDelay   string `yaml:"retry_base_delay"`
	BootstrapBackoff string `yaml:"bootstrap_backoff"`

	// compiled
	pollIntervalDur     time.Duration
	requestTimeoutDur   time.Duration
	retryBaseDelayDur   time.Duration
	bootstrapBackoffDur time.Duration
	retries             int
}

type BackupConfig struct {
	// Type is one of "none", "filesystem" or "redis".
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	Key           string `yaml:"key"`
	FlushInterval string `yaml:"flush_interval"`

	flushIntervalDur time.Duration
}

type NegativeCacheConfig struct {
	TTL  string `yaml:"ttl"`
	Size int    `yaml:"size"`

	ttlDur time.Duration
}

const (
	defaultLimit            = 1000
	defaultPollInterval     = 10 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultRetries          = 3
	defaultRetryBaseDelay   = 500 * time.Millisecond
	defaultBootstrapBackoff = time.Second
	defaultFlushInterval    = time.Minute
	defaultNegativeTTL      = 5 * time.Second
	defaultNegativeSize     = 1000
	defaultRefreshTimeout   = time.Second
)

// Compile validates c and fills in defaults. It must be called before the
// config is passed to New.
func (c *Config) Compile() error {
	switch c.Mode {
	case "":
		c.Mode = ModeOrganization
	case ModeOrganization, ModeProjectKey:
	default:
		return configErr("mode", "unknown mode %q (want %q or %q)", c.Mode, ModeOrganization, ModeProjectKey)
	}

	cp := &c.ControlPlane
	if cp.URL == "" {
		return configErr("control_plane.url", "is required")
	}
	u, err := url.Parse(cp.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configErr("control_plane.url", "invalid url %q", cp.URL)
	}
	if cp.Limit < 0 {
		return configErr("control_plane.limit", "must not be negative")
	}
	if cp.Limit == 0 {
		cp.Limit = defaultLimit
	}
	if cp.pollIntervalDur, err = parseDuration(cp.PollInterval, defaultPollInterval); err != nil {
		return configErr("control_plane.poll_interval", "%v", err)
	}
	if cp.requestTimeoutDur, err = parseDuration(cp.RequestTimeout, defaultRequestTimeout); err != nil {
		return configErr("control_plane.request_timeout", "%v", err)
	}
	if cp.retryBaseDelayDur, err = parseDuration(cp.RetryBaseDelay, defaultRetryBaseDelay); err != nil {
		return configErr("control_plane.retry_base_delay", "%v", err)
	}
	if cp.bootstrapBackoffDur, err = parseDuration(cp.BootstrapBackoff, defaultBootstrapBackoff); err != nil {
		return configErr("control_plane.bootstrap_backoff", "%v", err)
	}
	cp.retries = defaultRetries
	if cp.Retries != nil {
		if *cp.Retries < 0 {
			return configErr("control_plane.retries", "must not be negative")
		}
		cp.retries = *cp.Retries
	}

	b := &c.BackupRouteStore
	switch b.Type {
	case "", "none":
		b.Type = "none"
	case "filesystem":
		if b.Path == "" {
			return configErr("backup_route_store.path", "is required for filesystem backups")
		}
	case "redis":
		if b.Addr == "" {
			return configErr("backup_route_store.addr", "is required for redis backups")
		}
		if b.Key == "" {
			b.Key = "synapse:backup-routes:" + string(c.Mode)
		}
	default:
		return configErr("backup_route_store.type", "unknown type %q", b.Type)
	}
	if b.flushIntervalDur, err = parseDuration(b.FlushInterval, defaultFlushInterval); err != nil {
		return configErr("backup_route_store.flush_interval", "%v", err)
	}

	n := &c.NegativeCache
	if n.ttlDur, err = parseDuration(n.TTL, defaultNegativeTTL); err != nil {
		return configErr("negative_cache.ttl", "%v", err)
	}
	if n.Size < 0 {
		return configErr("negative_cache.size", "must not be negative")
	}
	if n.Size == 0 {
		n.Size = defaultNegativeSize
	}

	if c.refreshTimeoutDur, err = parseDuration(c.RefreshTimeout, defaultRefreshTimeout); err != nil {
		return configErr("refresh_timeout", "%v", err)
	}

	for loc, cell := range c.LocalityToDefaultCell {
		if loc == "" || cell == "" {
			return configErr("locality_to_default_cell", "empty locality or cell in %q: %q", loc, cell)
		}
	}
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

// Listener is a host/port pair to serve on.
type Listener struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (l Listener) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// ServerConfig is the configuration of the standalone locator process.
type ServerConfig struct {
	Listener Listener         `yaml:"listener"`
	Tracing  telemetry.Config `yaml:"tracing"`
	Locator  Config           `yaml:",inline"`
}

func LoadServerConfig(path string) (ServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, err
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if cfg.Listener.Host == "" {
		cfg.Listener.Host = "0.0.0.0"
	}
	if cfg.Listener.Port == 0 {
		cfg.Listener.Port = 3000
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "synapse-locator"
	}
	if err := cfg.Locator.Compile(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}
