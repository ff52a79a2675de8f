// Package config loads client settings from defaults, an optional config
// file, and NOTESYNC_CLIENT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "NOTESYNC_CLIENT"

	defaultServerURL    = "http://localhost:8080"
	defaultPollSeconds  = 60
	defaultDatabaseFile = "client.db"
)

// Config holds the client's runtime settings. Token is the bearer token
// issued by the server; the client does not handle sign-in itself.
//
// DeviceLabel, when set, replaces the generated device id in submitted
// mutations. It must stay stable on this installation or edit ordering
// attribution degrades.
type Config struct {
	ServerURL    string
	Token        string
	DatabasePath string
	DeviceLabel  string
	PollInterval time.Duration
}

// Load builds a Config from the given config file path (optional) and the
// environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", defaultServerURL)
	v.SetDefault("sync.poll_seconds", defaultPollSeconds)
	v.SetDefault("database.path", defaultDatabasePath())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		ServerURL:    v.GetString("server.url"),
		Token:        v.GetString("auth.token"),
		DatabasePath: v.GetString("database.path"),
		DeviceLabel:  v.GetString("device.label"),
		PollInterval: time.Duration(v.GetInt("sync.poll_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server.url is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("auth.token is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_seconds must be positive")
	}
	return nil
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDatabaseFile
	}
	return filepath.Join(home, ".notesync", defaultDatabaseFile)
}
