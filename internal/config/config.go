// Package config resolves runtime settings from a config file, GUARDRAIL_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. GUARDRAIL_STORE_TYPE.
const EnvPrefix = "GUARDRAIL"

// DefaultFile is looked up in the working directory when no --config is given.
const DefaultFile = "guardrail.yaml"

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Intent matchers.
const (
	MatcherExact   = "exact"
	MatcherSamples = "samples"
	MatcherRemote  = "remote"
)

// Config is the resolved set of settings shared by every command.
type Config struct {
	Sources string       `mapstructure:"sources"`
	Actions string       `mapstructure:"actions"`
	Log     LogConfig    `mapstructure:"log"`
	Limits  LimitsConfig `mapstructure:"limits"`
	Intent  IntentConfig `mapstructure:"intent"`
	Store   StoreConfig  `mapstructure:"store"`
	Server  ServerConfig `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LimitsConfig struct {
	MaxEventsPerTurn int `mapstructure:"max_events_per_turn"`
	MaxStepsPerHead  int `mapstructure:"max_steps_per_head"`
	MaxInputSize     int `mapstructure:"max_input_size"`
}

// IntentConfig selects how raw utterances are mapped to intents.
type IntentConfig struct {
	Matcher       string        `mapstructure:"matcher"`
	Threshold     float64       `mapstructure:"threshold"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the session store and the middleware stacked on it.
type StoreConfig struct {
	Type          string        `mapstructure:"type"`
	Dir           string        `mapstructure:"dir"`
	Redis         RedisConfig   `mapstructure:"redis"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	FallbackKeys  []string      `mapstructure:"fallback_keys"`
	PIIPatterns   []string      `mapstructure:"pii_patterns"`
	Transcript    bool          `mapstructure:"transcript"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Lock     bool          `mapstructure:"lock"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"dir":            "sources",
	"actions":        "actions",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"matcher":        "intent.matcher",
	"threshold":      "intent.threshold",
	"intent-url":     "intent.url",
	"store":          "store.type",
	"store-dir":      "store.dir",
	"redis-addr":     "store.redis.addr",
	"redis-password": "store.redis.password",
	"redis-db":       "store.redis.db",
	"redis-lock":     "store.redis.lock",
	"cache-ttl":      "store.cache_ttl",
	"transcript":     "store.transcript",
	"addr":           "server.addr",
	"max-input-size": "limits.max_input_size",
}

// New returns a viper instance carrying every default and the environment
// binding. Flags are attached separately with BindFlags.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("sources", ".")
	v.SetDefault("actions", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("limits.max_events_per_turn", 1000)
	v.SetDefault("limits.max_steps_per_head", 10000)
	v.SetDefault("limits.max_input_size", 4096)
	v.SetDefault("intent.matcher", MatcherSamples)
	v.SetDefault("intent.threshold", 0.5)
	v.SetDefault("intent.min_confidence", 0.0)
	v.SetDefault("intent.url", "")
	v.SetDefault("intent.timeout", 5*time.Second)
	v.SetDefault("store.type", StoreFile)
	v.SetDefault("store.dir", ".guardrail")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "guardrail:")
	v.SetDefault("store.redis.ttl", time.Duration(0))
	v.SetDefault("store.redis.lock", false)
	v.SetDefault("store.cache_ttl", time.Duration(0))
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.fallback_keys", []string{})
	v.SetDefault("store.pii_patterns", []string{})
	v.SetDefault("store.transcript", false)
	v.SetDefault("server.addr", ":8080")
	return v
}

// BindFlags binds every known flag present in fs to its config key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads cfgFile (or DefaultFile when empty) into v and decodes the
// result. It's ok if the default config file doesn't exist.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backends and malformed keys.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch c.Intent.Matcher {
	case MatcherExact, MatcherSamples:
	case MatcherRemote:
		if c.Intent.URL == "" {
			return errors.New("remote intent matcher requires intent.url")
		}
	default:
		return fmt.Errorf("unknown intent matcher %q", c.Intent.Matcher)
	}
	if c.Limits.MaxEventsPerTurn <= 0 || c.Limits.MaxStepsPerHead <= 0 {
		return errors.New("limits must be positive")
	}
	if _, _, err := c.Store.Keys(); err != nil {
		return err
	}
	return nil
}

// Keys decodes the base64 encryption keys. A nil active key means
// encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		if len(s.FallbackKeys) > 0 {
			return nil, nil, errors.New("fallback keys given without an active encryption key")
		}
		return nil, nil, nil
	}
	active, err = decodeKey(s.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}
