package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"esminify/host"
	"esminify/internal/cache"
	"esminify/internal/engine"
	"esminify/internal/logging"
	"esminify/internal/pool"
	"esminify/internal/task"
)

// EnvPrefix selects the environment overrides; "__" separates nested keys,
// e.g. ESMINIFY__MINIFY__TARGET=es2018.
const EnvPrefix = "ESMINIFY__"

type MinifyConfig struct {
	Whitespace  bool   `koanf:"whitespace" yaml:"whitespace"`
	Identifiers bool   `koanf:"identifiers" yaml:"identifiers"`
	Syntax      bool   `koanf:"syntax" yaml:"syntax"`
	Target      string `koanf:"target" yaml:"target" validate:"required"`
}

type OutputConfig struct {
	HashFunction     string `koanf:"hash_function" yaml:"hash_function" validate:"oneof=md5 sha1 sha256 sha512 xxhash64"`
	HashDigest       string `koanf:"hash_digest" yaml:"hash_digest" validate:"oneof=hex base64 base64url"`
	HashDigestLength int    `koanf:"hash_digest_length" yaml:"hash_digest_length" validate:"gt=0"`
	HashSalt         string `koanf:"hash_salt" yaml:"hash_salt"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

type WorkerConfig struct {
	StartTimeout     time.Duration `koanf:"start_timeout" yaml:"start_timeout" validate:"gt=0"`
	TransformTimeout time.Duration `koanf:"transform_timeout" yaml:"transform_timeout" validate:"gte=0"`
}

type KafkaConfig struct {
	Brokers  []string `koanf:"brokers" yaml:"brokers"`
	Topic    string   `koanf:"topic" yaml:"topic"`
	Acks     int16    `koanf:"required_acks" yaml:"required_acks" validate:"oneof=-1 0 1"`
	ClientID string   `koanf:"client_id" yaml:"client_id"`
}

type Config struct {
	// Cache is "" when caching is off, otherwise a directory or redis URL.
	Cache    string        `koanf:"-" yaml:"-"`
	CacheTTL time.Duration `koanf:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
	Parallel pool.Parallel `koanf:"-" yaml:"-"`

	Test            string       `koanf:"test" yaml:"test" validate:"required"`
	ExtractComments bool         `koanf:"extract_comments" yaml:"extract_comments"`
	Minify          MinifyConfig `koanf:"minify" yaml:"minify"`
	Output          OutputConfig `koanf:"output" yaml:"output"`
	Log             LogConfig    `koanf:"log" yaml:"log"`
	MetricsPort     int          `koanf:"metrics_port" yaml:"metrics_port" validate:"gte=0,lte=65535"`
	Worker          WorkerConfig `koanf:"worker" yaml:"worker"`

	Sinks []string    `koanf:"sinks" yaml:"sinks" validate:"dive,oneof=stdout kafka"`
	Kafka KafkaConfig `koanf:"kafka" yaml:"kafka"`
}

func defaults() map[string]any {
	return map[string]any{
		"cache":                     true,
		"parallel":                  true,
		"test":                      host.DefaultPattern,
		"extract_comments":          false,
		"minify.whitespace":         true,
		"minify.identifiers":        true,
		"minify.syntax":             true,
		"minify.target":             "esnext",
		"output.hash_function":      "md5",
		"output.hash_digest":        "hex",
		"output.hash_digest_length": 20,
		"log.level":                 "info",
		"worker.start_timeout":      "10s",
		"sinks":                     []string{"stdout"},
		"kafka.required_acks":       1,
	}
}

// Load merges defaults, the YAML file at path (if present) and env-vars
// (prefix `ESMINIFY__`, delimiter `__`), then validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return Config{}, err
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	var err error
	if cfg.Cache, err = parseCache(k.Get("cache")); err != nil {
		return cfg, err
	}
	if cfg.Parallel, err = parseParallel(k.Get("parallel")); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := regexp.Compile(c.Test); err != nil {
		return fmt.Errorf("config: test: %w", err)
	}
	for _, s := range c.Sinks {
		if s == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
			return errors.New("config: kafka sink needs kafka.brokers and kafka.topic")
		}
	}
	return nil
}

// parseCache accepts a boolean or a location. true resolves to the default
// cache directory.
func parseCache(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case bool:
		if x {
			return cache.DefaultDir(), nil
		}
		return "", nil
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return parseCache(b)
		}
		return x, nil
	default:
		return "", fmt.Errorf("config: cache: want bool or location, got %T", v)
	}
}

// parseParallel accepts a boolean or a worker count.
func parseParallel(v any) (pool.Parallel, error) {
	switch x := v.(type) {
	case nil:
		return pool.Parallel{}, nil
	case bool:
		return pool.Parallel{Auto: x}, nil
	case int:
		return pool.Parallel{Max: x}, nil
	case int64:
		return pool.Parallel{Max: int(x)}, nil
	case float64:
		return pool.Parallel{Max: int(x)}, nil
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return pool.Parallel{Auto: b}, nil
		}
		n, err := strconv.Atoi(x)
		if err != nil {
			return pool.Parallel{}, fmt.Errorf("config: parallel: want bool or integer, got %q", x)
		}
		return pool.Parallel{Max: n}, nil
	default:
		return pool.Parallel{}, fmt.Errorf("config: parallel: want bool or integer, got %T", v)
	}
}

func (c Config) Pattern() *regexp.Regexp { return regexp.MustCompile(c.Test) }

func (c Config) OutputOptions() host.OutputOptions {
	return host.OutputOptions{
		HashFunction:     c.Output.HashFunction,
		HashDigest:       c.Output.HashDigest,
		HashDigestLength: c.Output.HashDigestLength,
		HashSalt:         c.Output.HashSalt,
	}
}

func (c Config) ESBuild() engine.ESBuildOptions {
	return engine.ESBuildOptions{
		Whitespace:  c.Minify.Whitespace,
		Identifiers: c.Minify.Identifiers,
		Syntax:      c.Minify.Syntax,
		Target:      c.Minify.Target,
	}
}

func (c Config) Logging() logging.Options {
	return logging.Options{Level: c.Log.Level, JSON: c.Log.JSON}
}

// HashOptions maps host output options to task hashing settings.
func HashOptions(o host.OutputOptions) task.HashOptions {
	return task.HashOptions{
		Function: o.HashFunction,
		Digest:   o.HashDigest,
		Length:   o.HashDigestLength,
		Salt:     o.HashSalt,
	}
}

// Snapshot is the part of the configuration that goes into cache keys. The
// cache location is left out so credentials in a redis URL never reach a key.
func (c Config) Snapshot() map[string]any {
	return map[string]any{
		"cache":            c.Cache != "",
		"parallel":         c.parallelValue(),
		"test":             c.Test,
		"extract_comments": c.ExtractComments,
		"minify": map[string]any{
			"whitespace":  c.Minify.Whitespace,
			"identifiers": c.Minify.Identifiers,
			"syntax":      c.Minify.Syntax,
			"target":      c.Minify.Target,
		},
	}
}

func (c Config) parallelValue() any {
	if !c.Parallel.Auto && c.Parallel.Max > 0 {
		return c.Parallel.Max
	}
	return c.Parallel.Auto
}

// MarshalYAML renders cache and parallel back in their bool-or-value form.
func (c Config) MarshalYAML() (any, error) {
	type plain Config
	var cacheVal any = false
	if c.Cache != "" {
		cacheVal = c.Cache
	}
	return struct {
		Cache    any `yaml:"cache"`
		Parallel any `yaml:"parallel"`
		plain    `yaml:",inline"`
	}{cacheVal, c.parallelValue(), plain(c)}, nil
}

// WorkerEnv carries the engine and logging settings to worker processes,
// which load their configuration from the environment.
func (c Config) WorkerEnv() []string {
	return []string{
		EnvPrefix + "MINIFY__WHITESPACE=" + strconv.FormatBool(c.Minify.Whitespace),
		EnvPrefix + "MINIFY__IDENTIFIERS=" + strconv.FormatBool(c.Minify.Identifiers),
		EnvPrefix + "MINIFY__SYNTAX=" + strconv.FormatBool(c.Minify.Syntax),
		EnvPrefix + "MINIFY__TARGET=" + c.Minify.Target,
		EnvPrefix + "LOG__LEVEL=" + c.Log.Level,
		EnvPrefix + "LOG__JSON=" + strconv.FormatBool(c.Log.JSON),
	}
}
