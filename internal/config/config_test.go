package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, conf.HTTP.Port)
	assert.True(t, conf.GRPC.Enabled)
	assert.Equal(t, 9090, conf.GRPC.Port)
	assert.Equal(t, 24*time.Hour, conf.Lookup.Freshness)
	assert.Equal(t, 8, conf.Lookup.BulkWorkers)
	assert.Equal(t, []string{ProviderIPStack}, conf.Provider.Order)
	assert.Equal(t, "http://api.ipstack.com", conf.Provider.IPStack.BaseURL)
	assert.Equal(t, DriverSQLite, conf.Store.Driver)
	assert.Equal(t, "json", conf.Log.Format)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("GEOCACHE_LOOKUP_FRESHNESS", "1h")
	t.Setenv("GEOCACHE_STORE_DRIVER", "memory")
	t.Setenv("GEOCACHE_PROVIDER_ORDER", "mmdb,ipstack")
	t.Setenv("GEOCACHE_PROVIDER_MMDB_PATH", "/tmp/city.mmdb")

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, conf.Lookup.Freshness)
	assert.Equal(t, DriverMemory, conf.Store.Driver)
	assert.Equal(t, []string{ProviderMMDB, ProviderIPStack}, conf.Provider.Order)
	assert.Equal(t, "/tmp/city.mmdb", conf.Provider.MMDB.Path)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("IPSTACK_KEY", "legacy-key")

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, conf.HTTP.Port)
	assert.Equal(t, "debug", conf.Log.Level)
	assert.Equal(t, "legacy-key", conf.Provider.IPStack.AccessKey)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("GEOCACHE_HTTP_PORT", "7070")

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, conf.HTTP.Port)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocache.yaml")
	content := `
http:
  port: 8181
store:
  driver: pebble
  pebble:
    path: /var/lib/geocache
lookup:
  bulk_workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, conf.HTTP.Port)
	assert.Equal(t, DriverPebble, conf.Store.Driver)
	assert.Equal(t, "/var/lib/geocache", conf.Store.Pebble.Path)
	assert.Equal(t, 2, conf.Lookup.BulkWorkers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		conf, err := Load("")
		require.NoError(t, err)
		return conf
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero freshness", func(c *Config) { c.Lookup.Freshness = 0 }},
		{"negative workers", func(c *Config) { c.Lookup.BulkWorkers = -1 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"unknown provider", func(c *Config) { c.Provider.Order = []string{"geoplugin"} }},
		{"empty provider order", func(c *Config) { c.Provider.Order = nil }},
		{"mmdb without path", func(c *Config) { c.Provider.Order = []string{ProviderMMDB} }},
		{"ip2location without path", func(c *Config) { c.Provider.Order = []string{ProviderIP2Location} }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad grpc port", func(c *Config) { c.GRPC.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := valid()
			tt.modify(&conf)
			assert.ErrorIs(t, conf.Validate(), ErrInvalid)
		})
	}
}
