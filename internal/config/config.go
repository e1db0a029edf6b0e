// Package config provides Viper-based configuration loading for the lobby host and client.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// SessionConfig holds roster and approval settings.
type SessionConfig struct {
	// Capacity is the roster size at which new peers are rejected.
	Capacity int `mapstructure:"capacity"`
	// HostName is the display name the host records for itself.
	HostName string `mapstructure:"host_name"`
	// ClientName is the display name a client sends with its join request.
	ClientName string `mapstructure:"client_name"`
	// MaxNameBytes caps display names, in UTF-8 bytes.
	MaxNameBytes int `mapstructure:"max_name_bytes"`
	// FeedBuffer is the per-peer replication queue depth.
	FeedBuffer int `mapstructure:"feed_buffer"`
}

// GameServerConfig holds the host's gRPC listener settings.
type GameServerConfig struct {
	// GRPCHost is the bind address for the session service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the session service.
	GRPCPort int `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GameServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.GRPCHost, g.GRPCPort)
}

// ClientConfig holds settings used when joining a remote host.
type ClientConfig struct {
	// HostAddr is the "host:port" of the session service to join.
	HostAddr string `mapstructure:"host_addr"`
}

// HTTPConfig holds the roster feed HTTP listener settings.
type HTTPConfig struct {
	// Enabled toggles the HTTP roster feed.
	Enabled bool `mapstructure:"enabled"`
	// Host is the bind address.
	Host string `mapstructure:"host"`
	// Port is the TCP port.
	Port int `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Session    SessionConfig    `mapstructure:"session"`
	GameServer GameServerConfig `mapstructure:"gameserver"`
	Client     ClientConfig     `mapstructure:"client"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGameServer(c.GameServer); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateHTTP(c.HTTP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("session.capacity must be >= 1, got %d", s.Capacity))
	}
	if s.MaxNameBytes < 1 {
		errs = append(errs, fmt.Sprintf("session.max_name_bytes must be >= 1, got %d", s.MaxNameBytes))
	}
	if len(s.HostName) > s.MaxNameBytes {
		errs = append(errs, fmt.Sprintf("session.host_name exceeds %d bytes", s.MaxNameBytes))
	}
	if len(s.ClientName) > s.MaxNameBytes {
		errs = append(errs, fmt.Sprintf("session.client_name exceeds %d bytes", s.MaxNameBytes))
	}
	if s.FeedBuffer < 1 {
		errs = append(errs, fmt.Sprintf("session.feed_buffer must be >= 1, got %d", s.FeedBuffer))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateGameServer(g GameServerConfig) error {
	var errs []string
	if g.GRPCHost == "" {
		errs = append(errs, "gameserver.grpc_host must not be empty")
	}
	if g.GRPCPort < 0 || g.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("gameserver.grpc_port must be 0-65535, got %d", g.GRPCPort))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	if !h.Enabled {
		return nil
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be 0-65535, got %d", h.Port)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// New returns a Viper instance with defaults and LOBBY_ environment overrides applied.
func New() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with LOBBY_ prefix
	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.capacity", 4)
	v.SetDefault("session.host_name", "You")
	v.SetDefault("session.client_name", "Client")
	v.SetDefault("session.max_name_bytes", 32)
	v.SetDefault("session.feed_buffer", 64)

	v.SetDefault("gameserver.grpc_host", "0.0.0.0")
	v.SetDefault("gameserver.grpc_port", 7777)

	v.SetDefault("client.host_addr", "127.0.0.1:7777")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
