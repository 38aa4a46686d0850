package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. SHIPMENT_ENDPOINT.
	EnvPrefix = "SHIPMENT"
	// FileName is the config file base name searched for in the config paths.
	FileName = "shipment"
)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	configFile  string
	searchPaths []string
	flags       map[string]*pflag.Flag
	overrides   map[string]any
}

// WithConfigFile reads path instead of searching for shipment.yaml.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = path
	}
}

// WithSearchPaths replaces the directories searched for shipment.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) {
		o.searchPaths = paths
	}
}

// WithFlag binds a command-line flag to key. The flag wins over every other
// source when it was set explicitly.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(o *loadOptions) {
		if flag == nil {
			return
		}
		if o.flags == nil {
			o.flags = map[string]*pflag.Flag{}
		}
		o.flags[key] = flag
	}
}

// WithOverride forces key to value.
func WithOverride(key string, value any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[key] = value
	}
}

// DefaultSearchPaths returns the working directory and $HOME/.shipment.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".shipment"))
	}
	return paths
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load merges defaults, the config file, SHIPMENT_* environment variables
// and explicit overrides, in increasing precedence.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		searchPaths: DefaultSearchPaths(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	v := viper.New()
	defaults, err := Values(Default())
	if err != nil {
		return Config{}, Metadata{}, err
	}
	keys := make([]string, 0, len(defaults))
	for key, value := range defaults {
		v.SetDefault(key, value)
		keys = append(keys, key)
	}
	sort.Strings(keys)

	v.SetConfigType("yaml")
	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
	} else {
		v.SetConfigName(FileName)
		for _, path := range options.searchPaths {
			v.AddConfigPath(path)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || options.configFile != "" {
			return Config{}, Metadata{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		meta.file = v.ConfigFileUsed()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range options.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, Metadata{}, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
	}

	for _, key := range keys {
		switch {
		case options.overrides[key] != nil:
			meta.sources[key] = SourceOverride
		case options.flags[key] != nil && options.flags[key].Changed:
			meta.sources[key] = SourceOverride
		case envSet(key):
			meta.sources[key] = SourceEnv
		case v.InConfig(key):
			meta.sources[key] = SourceFile
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)

	return cfg, meta, nil
}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	values, err := Values(Default())
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(EnvName(key))
	return ok
}

// Values encodes cfg through its yaml tags and returns its leaf values
// keyed by dotted path, e.g. "retry.max_attempts".
func Values(cfg Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	out := map[string]any{}
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]any, prefix string, node map[string]any) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			flattenInto(out, full, child)
			continue
		}
		out[full] = value
	}
}
