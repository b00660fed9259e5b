// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FUNDUS_SERVICE"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port           int    `mapstructure:"port"`
	GRPCPort       int    `mapstructure:"grpc_port"`
	AllowedOrigin  string `mapstructure:"allowed_origin"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	GinMode        string `mapstructure:"gin_mode"`

	// Model configuration
	Model       string `mapstructure:"model"`
	ONNXLibrary string `mapstructure:"onnx_library"`
	InputName   string `mapstructure:"input_name"`
	OutputName  string `mapstructure:"output_name"`
	ImageHeight int    `mapstructure:"image_height"`
	ImageWidth  int    `mapstructure:"image_width"`

	// Prediction cache
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5001)
	v.SetDefault("grpc_port", 0)
	v.SetDefault("allowed_origin", "http://localhost:3000")
	v.SetDefault("max_upload_bytes", 10<<20)
	v.SetDefault("gin_mode", "release")

	v.SetDefault("model", "eye_disease_classifier.onnx")
	v.SetDefault("onnx_library", "")
	v.SetDefault("input_name", "")
	v.SetDefault("output_name", "")
	v.SetDefault("image_height", 128)
	v.SetDefault("image_width", 128)

	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", time.Hour)

	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")

	v.SetDefault("use_mock_inference", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Flags returns the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("fundus-service", pflag.ContinueOnError)
	fs.Int("port", 0, "HTTP server port (default: 5001)")
	fs.Int("grpc-port", 0, "gRPC server port, 0 disables it")
	fs.String("model", "", "Path to ONNX model file (default: eye_disease_classifier.onnx)")
	fs.String("redis", "", "Redis address for the prediction cache (disabled when empty)")
	fs.String("config", "", "Path to config file (optional)")
	fs.Bool("mock", false, "Use mock inference engine (for testing)")
	return fs
}

// Load loads configuration from flags, environment variables, and optional config file.
// Priority (highest to lowest): flags > env vars > config file > defaults.
// fs may be nil; only flags that were explicitly set take effect.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// OTEL standard env var also sets the collector endpoint
	v.BindEnv("otel_endpoint", envPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	configFile := ""
	if fs != nil {
		configFile, _ = fs.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fundus-service/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if fs != nil {
		bindFlags(v, fs)
	}

	// A collector endpoint from any source enables tracing
	if v.GetString("otel_endpoint") != "" {
		v.Set("otel_enabled", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindFlags applies flags that were set on the command line. Unset flags
// carry zero defaults and must not mask env or file values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	keys := map[string]string{
		"port":      "port",
		"grpc-port": "grpc_port",
		"model":     "model",
		"redis":     "redis",
		"mock":      "use_mock_inference",
	}
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := keys[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPCPort)
	}
	if c.Port == c.GRPCPort {
		return fmt.Errorf("port and grpc_port must be different")
	}
	if c.ImageHeight <= 0 || c.ImageWidth <= 0 {
		return fmt.Errorf("invalid image dimensions: %dx%d", c.ImageWidth, c.ImageHeight)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max_upload_bytes: %d", c.MaxUploadBytes)
	}
	if c.Model == "" && !c.UseMockInference {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	return nil
}
