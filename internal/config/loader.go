// Package config loads piiguard settings from YAML, .env files and
// PIIGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"piiguard/internal/logging"
)

// envPrefix maps nested keys such as domain.model_dir to
// PIIGUARD_DOMAIN_MODEL_DIR.
const envPrefix = "PIIGUARD"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, Default())
	return v
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("server.cors", d.Server.CORS)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_paths", d.Log.OutputPaths)

	v.SetDefault("pipeline.parallel", d.Pipeline.Parallel)
	v.SetDefault("pipeline.max_text_bytes", d.Pipeline.MaxTextBytes)
	v.SetDefault("patterns.enabled", d.Patterns.Enabled)

	for section, det := range map[string]DetectorConfig{"general": d.General, "domain": d.Domain} {
		v.SetDefault(section+".enabled", det.Enabled)
		v.SetDefault(section+".backend", det.Backend)
		v.SetDefault(section+".model_dir", det.ModelDir)
		v.SetDefault(section+".runtime", det.Runtime)
		v.SetDefault(section+".shared_library", det.SharedLibrary)
		v.SetDefault(section+".sidecar_url", det.SidecarURL)
		v.SetDefault(section+".timeout", det.Timeout.String())
		v.SetDefault(section+".threshold", det.Threshold)
		v.SetDefault(section+".prose_confidence", det.ProseConfidence)
		v.SetDefault(section+".serialize", det.Serialize)
	}

	v.SetDefault("redact.labels", d.Redact.Labels)
	v.SetDefault("redact.max_replacements", d.Redact.MaxReplacements)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("trace.sample_rate", d.Trace.SampleRate)
	v.SetDefault("models.root", d.Models.Root)
	v.SetDefault("models.registry", d.Models.Registry)
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads path (a missing file means defaults), applies PIIGUARD_*
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(expandHome(path))
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return unmarshalAndFinalize(v)
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Viper supplies the default threshold for unset keys, so the decoded
	// value is authoritative and an explicit 0 must survive ApplyDefaults.
	general, domain := cfg.General.Threshold, cfg.Domain.Threshold
	ApplyDefaults(cfg)
	cfg.General.Threshold, cfg.Domain.Threshold = general, domain
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch reloads path whenever it changes on disk and passes valid configs
// to onChange. Invalid edits are logged and skipped. Callers apply only
// settings that are safe to change at runtime.
func Watch(path string, log logging.Logger, onChange func(*Config)) {
	if log == nil {
		log = logging.NewNop()
	}
	v := newViper()
	v.SetConfigFile(expandHome(path))
	_ = v.ReadInConfig()

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			log.Warn("config reload rejected", logging.String("file", e.Name), logging.Err(err))
			return
		}
		log.Info("config reloaded", logging.String("file", e.Name), logging.String("op", e.Op.String()))
		onChange(cfg)
	})
	v.WatchConfig()
}

// WriteDefault writes the default configuration to path as YAML.
func WriteDefault(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return err
	}
	v := newViper()
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}
