package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/crimson-sun/pooling/pkg/pooling"
)

// EnvPrefix prefixes every environment variable, e.g. POOLING_ENGINE_POOLING.
const EnvPrefix = "POOLING"

// Config holds all configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Workers int           `mapstructure:"workers"`
}

// EngineConfig holds embedder and pooling settings.
type EngineConfig struct {
	ModelPath      string           `mapstructure:"model_path"`
	VocabPath      string           `mapstructure:"vocab_path"`
	ProjectionPath string           `mapstructure:"projection_path"`
	Pooling        pooling.Strategy `mapstructure:"pooling"`
	Normalize      bool             `mapstructure:"normalize"`
	MaxSeqLen      int              `mapstructure:"max_seq_len"`
	IntraOpThreads int              `mapstructure:"intra_op_threads"`
}

// OutputConfig holds output destination settings.
type OutputConfig struct {
	Format string `mapstructure:"format"` // "ndjson", or "json" for indented records
	Path   string `mapstructure:"path"`   // empty writes to stdout
	Append bool   `mapstructure:"append"` // append to Path instead of truncating
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// Load reads configuration from defaults, an optional config file and
// POOLING_* environment variables, in increasing precedence. An empty
// configFile searches for pooling.yaml in the working directory and
// tolerates its absence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pooling")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.model_path", "models/model_quantized.onnx")
	v.SetDefault("engine.vocab_path", "models/vocab.txt")
	v.SetDefault("engine.projection_path", "")
	v.SetDefault("engine.pooling", pooling.DefaultStrategy.String())
	v.SetDefault("engine.normalize", false)
	v.SetDefault("engine.max_seq_len", 128)
	v.SetDefault("engine.intra_op_threads", 0)

	v.SetDefault("output.format", "ndjson")
	v.SetDefault("output.path", "")
	v.SetDefault("output.append", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("workers", 4)
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Engine.Pooling != pooling.Cls && c.Engine.Pooling != pooling.Mean {
		return fmt.Errorf("engine.pooling: %w", pooling.ErrUnknownStrategy)
	}
	if c.Engine.MaxSeqLen < 2 {
		return fmt.Errorf("engine.max_seq_len must be at least 2, got %d", c.Engine.MaxSeqLen)
	}
	if c.Engine.IntraOpThreads < 0 {
		return fmt.Errorf("engine.intra_op_threads must be >= 0")
	}
	switch c.Output.Format {
	case "json", "ndjson":
	default:
		return fmt.Errorf("output.format must be json or ndjson, got %q", c.Output.Format)
	}
	if c.Output.Path != "" && c.Output.Format != "ndjson" {
		return fmt.Errorf("output.format %q is not supported with output.path; files are always ndjson", c.Output.Format)
	}
	if c.Output.Append && c.Output.Path == "" {
		return fmt.Errorf("output.append requires output.path")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	return nil
}
