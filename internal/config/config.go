// Package config loads the service configuration from defaults, an optional
// config file and the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

// Provider names usable in provider.order.
const (
	ProviderIPStack     = "ipstack"
	ProviderMMDB        = "mmdb"
	ProviderIP2Location = "ip2location"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete service configuration. It is intended to be mapped by viper.
type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	GRPC     GRPC     `mapstructure:"grpc"`
	Log      Log      `mapstructure:"log"`
	Lookup   Lookup   `mapstructure:"lookup"`
	Provider Provider `mapstructure:"provider"`
	Store    Store    `mapstructure:"store"`
}

type (
	HTTP struct {
		Port int `mapstructure:"port"`
	}

	GRPC struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	}

	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	}

	Lookup struct {
		Freshness   time.Duration `mapstructure:"freshness"`
		BulkWorkers int           `mapstructure:"bulk_workers"`
	}

	Provider struct {
		Order       []string    `mapstructure:"order"`
		IPStack     IPStack     `mapstructure:"ipstack"`
		MMDB        MMDB        `mapstructure:"mmdb"`
		IP2Location IP2Location `mapstructure:"ip2location"`
	}

	IPStack struct {
		BaseURL   string        `mapstructure:"base_url"`
		AccessKey string        `mapstructure:"access_key"`
		Timeout   time.Duration `mapstructure:"timeout"`
	}

	MMDB struct {
		Path  string `mapstructure:"path"`
		Watch bool   `mapstructure:"watch"`
	}

	IP2Location struct {
		Path string `mapstructure:"path"`
	}

	Store struct {
		Driver   string   `mapstructure:"driver"`
		SQLite   SQLite   `mapstructure:"sqlite"`
		Pebble   Pebble   `mapstructure:"pebble"`
		Postgres Postgres `mapstructure:"postgres"`
	}

	SQLite struct {
		Path string `mapstructure:"path"`
	}

	Pebble struct {
		Path string `mapstructure:"path"`
	}

	Postgres struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		User           string        `mapstructure:"user"`
		Password       string        `mapstructure:"password"`
		Database       string        `mapstructure:"database"`
		SSLMode        string        `mapstructure:"ssl_mode"`
		MaxConns       int           `mapstructure:"max_conns"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	}
)

// legacyEnv are the environment variables the service has always read.
var legacyEnv = map[string]string{
	"http.port":                   "PORT",
	"log.level":                   "LOG_LEVEL",
	"provider.mmdb.path":          "MMDB_PATH",
	"provider.ipstack.access_key": "IPSTACK_KEY",
}

// DefaultViper returns a new viper instance with all default values from
// Config set and the environment bound.
func DefaultViper() *viper.Viper {
	vip := viper.New()

	vip.SetDefault("http.port", 8080)

	vip.SetDefault("grpc.enabled", true)
	vip.SetDefault("grpc.port", 9090)

	vip.SetDefault("log.level", "info")
	vip.SetDefault("log.format", "json")
	vip.SetDefault("log.file", "")
	vip.SetDefault("log.max_size_mb", 100)
	vip.SetDefault("log.max_backups", 3)
	vip.SetDefault("log.max_age_days", 28)

	vip.SetDefault("lookup.freshness", 24*time.Hour)
	vip.SetDefault("lookup.bulk_workers", 8)

	vip.SetDefault("provider.order", []string{ProviderIPStack})
	vip.SetDefault("provider.ipstack.base_url", "http://api.ipstack.com")
	vip.SetDefault("provider.ipstack.access_key", "")
	vip.SetDefault("provider.ipstack.timeout", 10*time.Second)
	vip.SetDefault("provider.mmdb.path", "")
	vip.SetDefault("provider.mmdb.watch", false)
	vip.SetDefault("provider.ip2location.path", "")

	vip.SetDefault("store.driver", DriverSQLite)
	vip.SetDefault("store.sqlite.path", "data/geocache.db")
	vip.SetDefault("store.pebble.path", "data/pebble")
	vip.SetDefault("store.postgres.host", "localhost")
	vip.SetDefault("store.postgres.port", 5432)
	vip.SetDefault("store.postgres.user", "geocache")
	vip.SetDefault("store.postgres.password", "secret")
	vip.SetDefault("store.postgres.database", "geocache")
	vip.SetDefault("store.postgres.ssl_mode", "disable")
	vip.SetDefault("store.postgres.max_conns", 10)
	vip.SetDefault("store.postgres.connect_timeout", 30*time.Second)

	vip.SetEnvPrefix("GEOCACHE")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()
	for key, legacy := range legacyEnv {
		// the prefixed name wins over the legacy one
		_ = vip.BindEnv(key, "GEOCACHE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy)
	}

	return vip
}

// Load reads the configuration. file may be empty.
func Load(file string) (Config, error) {
	vip := DefaultViper()

	if file != "" {
		vip.SetConfigFile(file)
		if err := vip.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: could not read %s: %v", ErrInvalid, file, err)
		}
	}

	var conf Config
	if err := vip.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("%w: could not decode configuration: %v", ErrInvalid, err)
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Validate reports the first setting the service cannot run with.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("%w: http.port must be positive", ErrInvalid)
	}
	if c.GRPC.Enabled && c.GRPC.Port <= 0 {
		return fmt.Errorf("%w: grpc.port must be positive", ErrInvalid)
	}
	if c.Lookup.Freshness <= 0 {
		return fmt.Errorf("%w: lookup.freshness must be positive", ErrInvalid)
	}
	if c.Lookup.BulkWorkers <= 0 {
		return fmt.Errorf("%w: lookup.bulk_workers must be positive", ErrInvalid)
	}

	if len(c.Provider.Order) == 0 {
		return fmt.Errorf("%w: provider.order is empty", ErrInvalid)
	}
	for _, name := range c.Provider.Order {
		switch name {
		case ProviderIPStack:
		case ProviderMMDB:
			if c.Provider.MMDB.Path == "" {
				return fmt.Errorf("%w: provider.mmdb.path is required", ErrInvalid)
			}
		case ProviderIP2Location:
			if c.Provider.IP2Location.Path == "" {
				return fmt.Errorf("%w: provider.ip2location.path is required", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown provider %q", ErrInvalid, name)
		}
	}

	drivers := []string{DriverMemory, DriverSQLite, DriverPostgres, DriverPebble}
	if !slices.Contains(drivers, c.Store.Driver) {
		return fmt.Errorf("%w: store.driver must be one of: %s", ErrInvalid, strings.Join(drivers, ", "))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format must be json or text", ErrInvalid)
	}
	return nil
}
