// Package config loads server runtime settings from defaults, an optional
// config file, and NOTESYNC_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "NOTESYNC"

	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabaseDSN   = "memory"
	defaultTokenIssuer   = "notesync"
	defaultTokenAudience = "notesync-clients"
	defaultTokenTTLMin   = 30
	defaultLogLevel      = "info"
)

// Config holds runtime settings for the sync server.
//
// DatabaseDSN accepts a PostgreSQL DSN (pgx) or the literal "memory" for an
// in-process store, which is only suitable for development.
type Config struct {
	HTTPAddress   string
	DatabaseDSN   string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration
	LogLevel      string
	LogFile       string
}

// Load builds a Config from the given config file path (optional) and the
// environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", defaultHTTPAddress)
	v.SetDefault("database.dsn", defaultDatabaseDSN)
	v.SetDefault("token.issuer", defaultTokenIssuer)
	v.SetDefault("token.audience", defaultTokenAudience)
	v.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.file", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddress:   v.GetString("http.address"),
		DatabaseDSN:   v.GetString("database.dsn"),
		SigningSecret: v.GetString("auth.signing_secret"),
		TokenIssuer:   v.GetString("token.issuer"),
		TokenAudience: v.GetString("token.audience"),
		TokenTTL:      time.Duration(v.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:      v.GetString("log.level"),
		LogFile:       v.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}

// MemoryDSN reports whether the in-process store was requested.
func (c *Config) MemoryDSN() bool {
	return strings.EqualFold(strings.TrimSpace(c.DatabaseDSN), "memory")
}
