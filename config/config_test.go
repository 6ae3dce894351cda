package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fittrack.yaml")
	content := `
env: staging
port: 8080
store:
  driver: json
  path: /tmp/state.json
auth:
  token_secret: s3cret
  token_ttl: 30m
upload:
  strategy: inline
  url_expiry: 15m
cors:
  allowed_origins: ["https://fit.example.com"]
rate_limit:
  trusted_proxies: ["10.0.0.0/8"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "json", cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "inline", cfg.Upload.Strategy)
	assert.Equal(t, 15*time.Minute, cfg.Upload.URLExpiry)
	assert.Equal(t, []string{"https://fit.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.RateLimit.TrustedProxies)
	// untouched sections keep their defaults
	assert.Equal(t, int64(30), cfg.Session.ExpirationDays)
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"FITTRACK_PORT":                       "9000",
		"FITTRACK_STORE_DRIVER":               "json",
		"FITTRACK_AUTH_TOKEN_TTL":             "2h",
		"FITTRACK_OBJSTORE_PATH_STYLE":        "true",
		"FITTRACK_CORS_ALLOWED_ORIGINS":       "http://a.test, http://b.test,",
		"FITTRACK_RATE_LIMIT_TRUSTED_PROXIES": "127.0.0.1, 10.0.0.0/8",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "json", cfg.Store.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.ObjStore.PathStyle)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, cfg.RateLimit.TrustedProxies)
	assert.Equal(t, 50, cfg.RateLimit.Burst, "rate limit defaults survive")
}

func TestEnvOverridesRejectGarbage(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"FITTRACK_PORT":           "abc",
		"FITTRACK_AUTH_TOKEN_TTL": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FITTRACK_PORT")
	assert.Contains(t, err.Error(), "FITTRACK_AUTH_TOKEN_TTL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad store driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"bad provider", func(c *Config) { c.Auth.Provider = "ldap" }},
		{"cognito without client", func(c *Config) { c.Auth.Provider = "cognito" }},
		{"default secret in prod", func(c *Config) { c.Env = "prod" }},
		{"bad strategy", func(c *Config) { c.Upload.Strategy = "both" }},
		{"s3 without bucket", func(c *Config) { c.ObjStore.Driver = "s3" }},
		{"threshold above expiration", func(c *Config) { c.Session.RefreshThresholdDays = 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
