package proxy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/locator"
)

const validConfig = `
listener: {port: 8080}
logging: {access_log: true, log_stats_every: 1m}
stream: {chunk_size: 16kb}
upstream_timeout: 5s
upstreams:
  - {name: us1, url: "http://us1.internal"}
  - {name: us2, url: "http://us2.internal:8000/base"}
routes:
  - match: {host: us.sentry.io, path: "/organizations/{organization}/*", methods: [GET, POST]}
    action: {resolver: cell_from_organization, default: us1, cell_to_upstream: {us2: us2}}
  - match: {path: /health}
    action: {handler: health}
  - match: {}
    action: {to: us1}
locator:
  type: in_process
  mode: organization
  control_plane: {url: "http://control/api/0/internal/org-cell-mappings/", poll_interval: 5s}
  backup_route_store: {type: filesystem, path: ./data/routes}
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Listener.Addr())
	assert.Equal(t, "0.0.0.0:3001", cfg.AdminListener.Addr())
	assert.Equal(t, "synapse-proxy", cfg.Tracing.ServiceName)
	assert.Equal(t, time.Minute, cfg.Logging.logStatsEveryDur)
	assert.EqualValues(t, 16*1024, cfg.Stream.chunkSize)
	assert.Equal(t, 5*time.Second, cfg.upstreamTimeoutDur)

	require.Len(t, cfg.Routes, 3)
	assert.Equal(t, actionResolver, cfg.Routes[0].kind)
	assert.Equal(t, resolverCellFromOrganization, cfg.Routes[0].resolver)
	assert.Equal(t, actionHandler, cfg.Routes[1].kind)
	assert.Equal(t, actionStatic, cfg.Routes[2].kind)

	assert.True(t, cfg.Locator.Needed())
	assert.Equal(t, LocatorInProcess, cfg.Locator.Type)
	assert.Equal(t, locator.ModeOrganization, cfg.Locator.Mode)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Upstreams, 2)
}

func TestConfigWithoutLocatorRoutes(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
upstreams: [{name: a, url: "http://a"}]
routes:
  - match: {path: "/cells/{id}/*"}
    action: {resolver: cell_from_id, cell_to_upstream: {a: a}}
`))
	require.NoError(t, err)
	assert.False(t, cfg.Locator.Needed())
	assert.EqualValues(t, 32*1024, cfg.Stream.chunkSize)
	assert.Equal(t, 30*time.Second, cfg.upstreamTimeoutDur)
}

func TestConfigErrors(t *testing.T) {
	const ups = "upstreams: [{name: a, url: \"http://a\"}, {name: b, url: \"http://b\"}]\n"
	const loc = "locator: {type: url, url: \"http://locator/locator\"}\n"
	cases := map[string]struct {
		yaml  string
		field string
	}{
		"no routes": {ups, "routes"},
		"two actions": {ups + `routes: [{match: {}, action: {to: a, handler: health}}]`,
			"routes[0].action"},
		"no action": {ups + `routes: [{match: {}, action: {}}]`,
			"routes[0].action"},
		"unknown upstream": {ups + `routes: [{match: {}, action: {to: c}}]`,
			"routes[0].action.to"},
		"unknown resolver": {ups + loc + `routes: [{match: {path: "/o/{x}"}, action: {resolver: cell_from_team, default: a}}]`,
			"routes[0].action.resolver"},
		"resolver without param": {ups + loc + `routes: [{match: {path: "/o"}, action: {resolver: cell_from_organization, default: a}}]`,
			"routes[0].match.path"},
		"unknown cell upstream": {ups + loc + `routes: [{match: {path: "/o/{x}"}, action: {resolver: cell_from_organization, cell_to_upstream: {us1: z}}}]`,
			"routes[0].action.cell_to_upstream"},
		"unknown default": {ups + loc + `routes: [{match: {path: "/o/{x}"}, action: {resolver: cell_from_organization, default: z}}]`,
			"routes[0].action.default"},
		"resolver mode mismatch": {ups + "locator: {type: url, url: \"http://l\", mode: project_key}\n" + `routes: [{match: {path: "/o/{x}"}, action: {resolver: cell_from_organization, default: a}}]`,
			"routes[0].action.resolver"},
		"unknown handler": {ups + `routes: [{match: {}, action: {handler: metrics}}]`,
			"routes[0].action.handler"},
		"bad path": {ups + `routes: [{match: {path: "/a/{x}/{y}"}, action: {to: a}}]`,
			"routes[0].match.path"},
		"duplicate upstream": {"upstreams: [{name: a, url: \"http://a\"}, {name: a, url: \"http://b\"}]\nroutes: [{match: {}, action: {to: a}}]",
			"upstreams[1].name"},
		"bad upstream url": {"upstreams: [{name: a, url: \"a.internal\"}]\nroutes: [{match: {}, action: {to: a}}]",
			"upstreams[0].url"},
		"bad chunk size": {ups + "stream: {chunk_size: lots}\n" + `routes: [{match: {}, action: {to: a}}]`,
			"stream.chunk_size"},
		"bad timeout": {ups + "upstream_timeout: never\n" + `routes: [{match: {}, action: {to: a}}]`,
			"upstream_timeout"},
		"missing control plane": {ups + `routes: [{match: {path: "/o/{x}"}, action: {resolver: cell_from_organization, default: a}}]`,
			"locator.control_plane.url"},
		"bad locator type": {ups + "locator: {type: dns}\n" + `routes: [{match: {path: "/o/{x}"}, action: {resolver: cell_from_organization, default: a}}]`,
			"locator.type"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml))
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.True(t, strings.HasPrefix(err.Error(), "proxy config: "+tc.field))
		})
	}
}

func TestParseConfigRejectsBadYAML(t *testing.T) {
	_, err := ParseConfig([]byte("routes: [unterminated"))
	assert.Error(t, err)
}
