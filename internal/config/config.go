package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvlens/kvlens/internal/processor"
	"github.com/kvlens/kvlens/internal/store"
)

// Config holds all configuration for kvlens
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`

	// Store configuration
	Store StoreConfig `mapstructure:"store"`

	// Schema configuration
	Schema SchemaConfig `mapstructure:"schema"`

	// Processor configuration
	Processors ProcessorsConfig `mapstructure:"processors"`

	// Artifact configuration
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`

	// Search configuration
	Search SearchConfig `mapstructure:"search"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StoreConfig selects the database to open. The store is always opened
// read-only; kvlens never writes to it.
type StoreConfig struct {
	Path    string `mapstructure:"path"`
	Backend string `mapstructure:"backend"` // pebble or badger
}

// SchemaConfig defines the candidate schemas tried against each value, in
// order: protobuf message types first, then the enabled generic codecs.
type SchemaConfig struct {
	DescriptorSet string   `mapstructure:"descriptor_set"`
	MessageTypes  []string `mapstructure:"message_types"`
	EnableCBOR    bool     `mapstructure:"enable_cbor"`
	EnableMsgpack bool     `mapstructure:"enable_msgpack"`
	EnableJSON    bool     `mapstructure:"enable_json"`
}

// ProcessorsConfig carries field processor bindings, either inline or from
// a separate bindings file.
type ProcessorsConfig struct {
	File     string              `mapstructure:"file"`
	Bindings []processor.Binding `mapstructure:"bindings"`
}

// ArtifactsConfig defines where rendered artifacts (WAV, PNG) live and how
// long they stay fetchable after a search response.
type ArtifactsConfig struct {
	Dir        string `mapstructure:"dir"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// SearchConfig bounds search requests and raw value previews.
type SearchConfig struct {
	MaxLimit         int `mapstructure:"max_limit"`
	TextPreviewBytes int `mapstructure:"text_preview_bytes"`
	ValueHexBytes    int `mapstructure:"value_hex_bytes"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Load loads configuration from flags, config file and environment, with
// flags taking precedence over env vars over the file over defaults. Any
// invalid value fails load; nothing is deferred to first use.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Bind command line flags
	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Read from config file if specified
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables (nested keys use underscores,
	// e.g. KVLENS_STORE_PATH for store.path)
	v.SetEnvPrefix("KVLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load external bindings file before validation so bad bindings fail
	// startup rather than the first search.
	if cfg.Processors.File != "" {
		bindings, err := loadBindingsFile(cfg.Processors.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load processor bindings: %w", err)
		}
		cfg.Processors.Bindings = append(cfg.Processors.Bindings, bindings...)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("listen", ":8980")
	v.SetDefault("log_level", "info")

	// Store defaults - NO default for store.path, must be explicitly configured
	v.SetDefault("store.backend", store.BackendPebble)

	// Schema defaults: generic codecs on, protobuf only when a descriptor
	// set is supplied
	v.SetDefault("schema.enable_cbor", true)
	v.SetDefault("schema.enable_msgpack", true)
	v.SetDefault("schema.enable_json", true)

	// Artifact defaults: empty dir means a per-process temp directory
	v.SetDefault("artifacts.dir", "")
	v.SetDefault("artifacts.ttl_seconds", 300)

	// Search defaults
	v.SetDefault("search.max_limit", 1000)
	v.SetDefault("search.text_preview_bytes", 200)
	v.SetDefault("search.value_hex_bytes", 512)

	// Metrics defaults
	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "kvlens")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":         "listen",
		"log-level":      "log_level",
		"store-path":     "store.path",
		"backend":        "store.backend",
		"descriptor-set": "schema.descriptor_set",
		"message-type":   "schema.message_types",
		"processors":     "processors.file",
		"artifact-dir":   "artifacts.dir",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadBindingsFile reads a YAML or JSON file with a top-level "bindings"
// list into processor bindings.
func loadBindingsFile(path string) ([]processor.Binding, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var bindings []processor.Binding
	if err := v.UnmarshalKey("bindings", &bindings); err != nil {
		return nil, err
	}
	return bindings, nil
}

func validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required: specify via --store-path flag, config file, or KVLENS_STORE_PATH environment variable")
	}

	switch cfg.Store.Backend {
	case store.BackendPebble, store.BackendBadger:
	default:
		return fmt.Errorf("unknown store backend %q (valid: %s, %s)", cfg.Store.Backend, store.BackendPebble, store.BackendBadger)
	}

	if len(cfg.Schema.MessageTypes) > 0 && cfg.Schema.DescriptorSet == "" {
		return fmt.Errorf("schema.message_types requires schema.descriptor_set")
	}

	if cfg.Artifacts.TTLSeconds <= 0 {
		return fmt.Errorf("artifacts.ttl_seconds must be positive")
	}

	if cfg.Search.MaxLimit <= 0 {
		return fmt.Errorf("search.max_limit must be positive")
	}

	for i, b := range cfg.Processors.Bindings {
		if b.SchemaType == "" || b.FieldPattern == "" || b.ProcessorID == "" {
			return fmt.Errorf("processor binding %d: schema_type, field_pattern and processor are all required", i)
		}
	}

	return nil
}
