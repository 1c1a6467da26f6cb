package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5001", cfg.Server.Addr())
	assert.Equal(t, 10_000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.RecordMaxAge)
	assert.Equal(t, 30*time.Minute, cfg.Cache.SpaceConfigMaxAge)
	assert.Equal(t, time.Hour, cfg.Cache.MetadataMaxAge)
	assert.Equal(t, time.Hour, cfg.Cache.Longest())
	assert.Equal(t, DefaultAPIBase, cfg.Vika.APIBase)
	assert.Equal(t, 2, cfg.Vika.RateLimitQPS)
	assert.False(t, cfg.Observe.Enabled)
}

func TestConfig_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("CACHE_RECORD_MAX_AGE", "90s")
	t.Setenv("VIKA_USER_TOKEN", "usk-test")
	t.Setenv("VIKA_RATE_LIMIT_QPS", "5")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, 90*time.Second, cfg.Cache.RecordMaxAge)
	assert.Equal(t, "usk-test", cfg.Vika.UserToken)
	assert.Equal(t, 5, cfg.Vika.RateLimitQPS)
}

func TestServerConfig_Addr(t *testing.T) {
	cases := []struct {
		name     string
		env      map[string]string
		expected string
	}{
		{name: "defaults", env: map[string]string{}, expected: "127.0.0.1:5001"},
		{
			name:     "service names",
			env:      map[string]string{"VIKA_SERVICE_HOST": "0.0.0.0", "VIKA_SERVICE_PORT": "8080"},
			expected: "0.0.0.0:8080",
		},
		{
			name: "server names take precedence",
			env: map[string]string{
				"VIKA_SERVICE_HOST": "0.0.0.0", "VIKA_SERVICE_PORT": "8080",
				"SERVER_HOST": "10.0.0.1", "SERVER_PORT": "9000",
			},
			expected: "10.0.0.1:9000",
		},
		{
			name:     "mixed",
			env:      map[string]string{"VIKA_SERVICE_HOST": "0.0.0.0", "SERVER_PORT": "9000"},
			expected: "0.0.0.0:9000",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := load(context.Background(), envconfig.MapLookuper(tc.env))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg.Server.Addr())
		})
	}
}

func TestConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero quota", env: map[string]string{"VIKA_RATE_LIMIT_QPS": "0"}},
		{name: "zero cache size", env: map[string]string{"CACHE_MAX_SIZE": "0"}},
		{name: "negative max age", env: map[string]string{"CACHE_METADATA_MAX_AGE": "-1s"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(context.Background(), envconfig.MapLookuper(tc.env))
			assert.Error(t, err)
		})
	}
}

func TestVikaConfig_Client(t *testing.T) {
	t.Run("no credential", func(t *testing.T) {
		_, ok, err := VikaConfig{APIBase: DefaultAPIBase, RateLimitQPS: 2}.Client()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("from environment", func(t *testing.T) {
		cc, ok, err := VikaConfig{UserToken: "usk", APIBase: DefaultAPIBase, RateLimitQPS: 3}.Client()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ClientConfig{Credential: "usk", BaseURL: DefaultAPIBase, RateLimitQuota: 3}, cc)
	})

	t.Run("file takes precedence", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vika.yaml")
		err := os.WriteFile(path, []byte("user_token: from-file\nrate_limit_qps: 4\n"), 0o600)
		require.NoError(t, err)

		cc, ok, err := VikaConfig{UserToken: "usk", APIBase: DefaultAPIBase, RateLimitQPS: 3, ConfigFile: path}.Client()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ClientConfig{Credential: "from-file", BaseURL: DefaultAPIBase, RateLimitQuota: 4}, cc)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := VikaConfig{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")}.Client()
		assert.ErrorContains(t, err, "reading client configuration")
	})
}

func TestClientConfig_Validate(t *testing.T) {
	cases := []struct {
		name     string
		cfg      ClientConfig
		expected string
	}{
		{name: "valid", cfg: ClientConfig{Credential: "usk", BaseURL: "https://example.com/v1", RateLimitQuota: 1}},
		{name: "no credential", cfg: ClientConfig{BaseURL: "https://example.com", RateLimitQuota: 1}, expected: "user_token is required"},
		{name: "relative url", cfg: ClientConfig{Credential: "usk", BaseURL: "/v1", RateLimitQuota: 1}, expected: "absolute URL"},
		{name: "zero quota", cfg: ClientConfig{Credential: "usk", BaseURL: "https://example.com", RateLimitQuota: 0}, expected: "at least 1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.expected == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.expected)
			}
		})
	}
}

func TestClientConfig_WithDefaults(t *testing.T) {
	cc := ClientConfig{Credential: "usk"}.WithDefaults()

	assert.Equal(t, DefaultAPIBase, cc.BaseURL)
	assert.Equal(t, DefaultRateLimitQuota, cc.RateLimitQuota)
}
