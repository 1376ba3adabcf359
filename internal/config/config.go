// Package config loads versionable.yaml.
//
// Settings are read with viper from a YAML file and VERSIONABLE_* environment
// variables (dots become underscores, so dispatch.workers is
// VERSIONABLE_DISPATCH_WORKERS). The merged settings are then unified with an
// embedded CUE schema that supplies defaults and rejects invalid values.
//
// Viper lowercases keys, so record type names under types are lowercase.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/roach88/versionable/internal/policy"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "VERSIONABLE"

// Config is the resolved configuration. Every field is populated after Load
// or Resolve.
type Config struct {
	Store        StoreConfig           `mapstructure:"store" json:"store,omitempty"`
	Dispatch     DispatchConfig        `mapstructure:"dispatch" json:"dispatch,omitempty"`
	Redis        RedisConfig           `mapstructure:"redis" json:"redis,omitempty"`
	Kafka        KafkaConfig           `mapstructure:"kafka" json:"kafka,omitempty"`
	StrictWrites bool                  `mapstructure:"strict_writes" json:"strict_writes,omitempty"`
	LogLevel     string                `mapstructure:"log_level" json:"log_level,omitempty"`
	Defaults     PolicyConfig          `mapstructure:"defaults" json:"defaults,omitempty"`
	Types        map[string]TypeConfig `mapstructure:"types" json:"types,omitempty"`
}

// StoreConfig selects the snapshot database.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" json:"driver,omitempty"`
	// DSN is a file path for sqlite, a connection URL for postgres.
	DSN string `mapstructure:"dsn" json:"dsn,omitempty"`
}

// DispatchConfig selects inline or queued snapshot writes.
type DispatchConfig struct {
	Mode        string `mapstructure:"mode" json:"mode,omitempty"`
	Queue       string `mapstructure:"queue" json:"queue,omitempty"`
	Workers     int    `mapstructure:"workers" json:"workers,omitempty"`
	MaxAttempts int    `mapstructure:"max_attempts" json:"max_attempts,omitempty"`
}

// RedisConfig configures the redis queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db,omitempty"`
	Key      string `mapstructure:"key" json:"key,omitempty"`
}

// KafkaConfig configures the kafka queue.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" json:"brokers,omitempty"`
	Topic   string   `mapstructure:"topic" json:"topic,omitempty"`
	Group   string   `mapstructure:"group" json:"group,omitempty"`
}

// PolicyConfig is the versioning policy of a record type.
type PolicyConfig struct {
	// Enabled is a pointer so an explicit false survives defaulting.
	Enabled        *bool    `mapstructure:"enabled" json:"enabled,omitempty"`
	ExcludedFields []string `mapstructure:"excluded_fields" json:"excluded_fields,omitempty"`
	HiddenFields   []string `mapstructure:"hidden_fields" json:"hidden_fields,omitempty"`
	RetentionLimit int      `mapstructure:"retention_limit" json:"retention_limit,omitempty"`
}

// TypeConfig is a record type's policy plus its encoder and table.
type TypeConfig struct {
	Enabled        *bool    `mapstructure:"enabled" json:"enabled,omitempty"`
	ExcludedFields []string `mapstructure:"excluded_fields" json:"excluded_fields,omitempty"`
	HiddenFields   []string `mapstructure:"hidden_fields" json:"hidden_fields,omitempty"`
	RetentionLimit int      `mapstructure:"retention_limit" json:"retention_limit,omitempty"`

	Encoder string `mapstructure:"encoder" json:"encoder,omitempty"`
	Table   string `mapstructure:"table" json:"table,omitempty"`
}

// Policy converts the type's policy fields.
func (t TypeConfig) Policy() policy.Config {
	return PolicyConfig{
		Enabled:        t.Enabled,
		ExcludedFields: t.ExcludedFields,
		HiddenFields:   t.HiddenFields,
		RetentionLimit: t.RetentionLimit,
	}.Policy()
}

// Policy converts to the engine's policy. Housekeeping columns come from
// the record at save time.
func (p PolicyConfig) Policy() policy.Config {
	out := policy.Default()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	out.ExcludedFields = p.ExcludedFields
	out.HiddenFields = p.HiddenFields
	out.RetentionLimit = p.RetentionLimit
	return out
}

// SlogLevel parses LogLevel. Unknown levels mean info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// envKeys are bound explicitly so environment overrides apply even when the
// file does not mention the key.
var envKeys = []string{
	"store.driver",
	"store.dsn",
	"dispatch.mode",
	"dispatch.queue",
	"dispatch.workers",
	"dispatch.max_attempts",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.key",
	"kafka.brokers",
	"kafka.topic",
	"kafka.group",
	"strict_writes",
	"log_level",
	"defaults.enabled",
	"defaults.retention_limit",
}

// Load reads the configuration file at path, applies environment overrides
// and resolves defaults. An empty path searches for versionable.yaml in the
// working directory and $HOME/.config/versionable; not finding one is not an
// error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("versionable")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/versionable")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var raw Config
	if err := v.UnmarshalExact(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return Resolve(raw)
}

// Resolve validates raw against the schema and fills every unset field with
// its default.
func Resolve(raw Config) (Config, error) {
	cctx := cuecontext.New()

	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}

	data := cctx.Encode(raw)
	if err := data.Err(); err != nil {
		return Config{}, fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
