package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the observability block, read from its own YAML file so the
// server config and the telemetry config can be deployed separately.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	File   string `yaml:"file"`   // optional rotated file sink
}

func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, PrometheusPort: 9090},
		Tracing: TracingConfig{
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "chatgem",
			ServiceVersion: "1.0.0",
		},
	}
}

// DefaultConfigPath is used when LoadConfig receives an empty path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatgem", "observability.yaml")
}

// LoadConfig overlays the `observability:` block of the file at path onto
// DefaultConfig. Keys absent from the file keep their defaults, and a missing
// file is not an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	doc := struct {
		Observability Config `yaml:"observability"`
	}{Observability: DefaultConfig()}
	if path == "" {
		return doc.Observability, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc.Observability, nil
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("read observability config: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return DefaultConfig(), fmt.Errorf("parse observability config %s: %w", path, err)
	}

	cfg := doc.Observability
	if cfg.Metrics.PrometheusPort <= 0 {
		cfg.Metrics.PrometheusPort = DefaultConfig().Metrics.PrometheusPort
	}
	// Out-of-range sample rates fall back to always-on; disable tracing to
	// stop sampling entirely.
	if cfg.Tracing.SampleRate <= 0 || cfg.Tracing.SampleRate > 1 {
		cfg.Tracing.SampleRate = 1.0
	}
	return cfg, nil
}
