// Package config loads kanban settings from defaults, a config file, the
// environment (KANBAN_ prefix) and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable: db.dsn is read from
// KANBAN_DB_DSN.
const EnvPrefix = "KANBAN"

// Config is the full set of settings.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Client  ClientConfig  `mapstructure:"client"`
	Inbox   InboxConfig   `mapstructure:"inbox"`
	Log     LogConfig     `mapstructure:"log"`
	Suggest SuggestConfig `mapstructure:"suggest"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	Version string `mapstructure:"version"`
}

type DBConfig struct {
	// DSN is a file path, a libsql:// or https:// URL, or a postgres:// URL
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	// URL enables the Redis change feed when set
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
}

type AuthConfig struct {
	// Tokens are "token=user" pairs
	Tokens []string `mapstructure:"tokens"`
}

type ClientConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type InboxConfig struct {
	Dir      string        `mapstructure:"dir"`
	User     string        `mapstructure:"user"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Dev        bool   `mapstructure:"dev"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SuggestConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// DefaultDSN is the embedded database used when db.dsn is not set.
func DefaultDSN() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "kanban", "kanban.db")
	}
	return "kanban.db"
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.version", "")
	v.SetDefault("db.dsn", DefaultDSN())
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.namespace", "default")
	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("client.url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("inbox.dir", "")
	v.SetDefault("inbox.user", "")
	v.SetDefault("inbox.debounce", 100*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("suggest.api_key", "")
	v.SetDefault("suggest.model", "")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads path, or searches for kanban.{yaml,toml,json} in the
// working directory and the user config directory when path is empty. A
// missing config file is not an error unless path was given.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("kanban")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "kanban"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// TokenMap parses auth.tokens into a token to user map. Entries may also be
// comma separated inside one string, which is how KANBAN_AUTH_TOKENS arrives.
func (a AuthConfig) TokenMap() (map[string]string, error) {
	tokens := make(map[string]string)
	for _, entry := range a.Tokens {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			token, user, ok := strings.Cut(pair, "=")
			token, user = strings.TrimSpace(token), strings.TrimSpace(user)
			if !ok || token == "" || user == "" {
				return nil, fmt.Errorf("invalid auth token entry %q (want token=user)", pair)
			}
			if prev, dup := tokens[token]; dup && prev != user {
				return nil, fmt.Errorf("auth token assigned to both %s and %s", prev, user)
			}
			tokens[token] = user
		}
	}
	return tokens, nil
}
