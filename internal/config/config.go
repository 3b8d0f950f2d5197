// Package config loads and saves the settings blob. A missing or
// corrupt settings file never prevents startup; defaults apply.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/ivymerfe/tinychat/pkg/wire"
)

type Config struct {
	Listen      string `mapstructure:"listen"`
	Broadcast   string `mapstructure:"broadcast"`
	LogLevel    string `mapstructure:"loglevel"`
	MetricsAddr string `mapstructure:"metricsAddr"`

	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
}

type ServerConfig struct {
	Name    string `mapstructure:"server_name"`
	Desc    string `mapstructure:"server_desc"`
	Visible bool   `mapstructure:"visible"`
}

type ClientConfig struct {
	Username string `mapstructure:"username"`

	// AllowSysCmd opts in to executing server-issued syscmd packets.
	// Off by default; the server is not a trusted code source.
	AllowSysCmd bool `mapstructure:"allowSyscmd"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()

	v.SetDefault("listen", fmt.Sprintf(":%d", wire.DefaultPort))
	v.SetDefault("broadcast", "255.255.255.255")
	v.SetDefault("loglevel", "info")
	v.SetDefault("metricsAddr", "")
	v.SetDefault("server.server_name", "Server1")
	v.SetDefault("server.server_desc", "A server for testing")
	v.SetDefault("server.visible", true)
	v.SetDefault("client.username", "")
	v.SetDefault("client.allowSyscmd", false)

	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix("TINYCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the settings file at path, falling back to defaults and
// environment variables when it is absent or unreadable.
func Load(logger *slog.Logger, path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("settings file not read, using defaults", slog.String("path", path), slog.Any("error", err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal settings: %w", err)
	}
	return &cfg, nil
}

// Save writes the updated settings back to path.
func Save(cfg *Config, path string) error {
	v := newViper(path)
	v.Set("listen", cfg.Listen)
	v.Set("broadcast", cfg.Broadcast)
	v.Set("loglevel", cfg.LogLevel)
	v.Set("metricsAddr", cfg.MetricsAddr)
	v.Set("server.server_name", cfg.Server.Name)
	v.Set("server.server_desc", cfg.Server.Desc)
	v.Set("server.visible", cfg.Server.Visible)
	v.Set("client.username", cfg.Client.Username)
	v.Set("client.allowSyscmd", cfg.Client.AllowSysCmd)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	return nil
}
