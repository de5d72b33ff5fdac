package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes is like [LoadFromReader] for an in-memory document.
func LoadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Interruption
	if err := cfg.Interruption.ToInterrupt().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("interruption: %w", err))
	}
	ff := cfg.Interruption.FuzzyFolding
	if !(ff.PhoneticThreshold >= 0 && ff.PhoneticThreshold <= 1) {
		errs = append(errs, fmt.Errorf("interruption.fuzzy_folding.phonetic_threshold %.2f is out of range [0, 1]", ff.PhoneticThreshold))
	}
	if !(ff.FuzzyThreshold >= 0 && ff.FuzzyThreshold <= 1) {
		errs = append(errs, fmt.Errorf("interruption.fuzzy_folding.fuzzy_threshold %.2f is out of range [0, 1]", ff.FuzzyThreshold))
	}
	if ff.MinLength < 0 {
		errs = append(errs, fmt.Errorf("interruption.fuzzy_folding.min_length %d must not be negative", ff.MinLength))
	}
	if len(cfg.Interruption.CommandWords) == 0 && cfg.Interruption.CommandWords != nil {
		slog.Warn("interruption.command_words is empty; only new content will interrupt a speaking agent")
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	// Audit
	if cfg.Audit.Driver != "" && !cfg.Audit.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("audit.driver %q is invalid; valid values: none, memory, postgres", cfg.Audit.Driver))
	}
	if cfg.Audit.Driver == AuditPostgres && cfg.Audit.PostgresDSN == "" {
		errs = append(errs, errors.New("audit.postgres_dsn is required when audit.driver is postgres"))
	}
	if cfg.Audit.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audit.queue_size %d must not be negative", cfg.Audit.QueueSize))
	}
	if cfg.Audit.MemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("audit.memory_limit %d must not be negative", cfg.Audit.MemoryLimit))
	}
	if cfg.Audit.BreakerMaxFailures < 0 {
		errs = append(errs, fmt.Errorf("audit.breaker_max_failures %d must not be negative", cfg.Audit.BreakerMaxFailures))
	}
	if cfg.Audit.BreakerResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("audit.breaker_reset_timeout %v must not be negative", cfg.Audit.BreakerResetTimeout))
	}

	// Gateway
	if p := cfg.Gateway.Path; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("gateway.path %q must start with /", p))
	}
	if cfg.Gateway.Path != "" && cfg.Gateway.Path == cfg.Telemetry.MetricsPath {
		errs = append(errs, fmt.Errorf("gateway.path and telemetry.metrics_path are both %q", cfg.Gateway.Path))
	}
	if cfg.Gateway.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_message_bytes %d must not be negative", cfg.Gateway.MaxMessageBytes))
	}
	if cfg.Gateway.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.write_timeout %s must not be negative", cfg.Gateway.WriteTimeout))
	}

	return errors.Join(errs...)
}
