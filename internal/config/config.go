package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"piiguard/internal/classifier"
	"piiguard/internal/detect"
	"piiguard/internal/logging"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORS            bool          `mapstructure:"cors" yaml:"cors"`
}

type PipelineConfig struct {
	Parallel     bool `mapstructure:"parallel" yaml:"parallel"`
	MaxTextBytes int  `mapstructure:"max_text_bytes" yaml:"max_text_bytes"`
}

type PatternsConfig struct {
	// Enabled restricts the pattern table; empty enables every pattern.
	Enabled []string `mapstructure:"enabled" yaml:"enabled"`
}

// DetectorConfig configures one model detector and its backend. Enabled is
// ignored for the general detector, which always runs.
type DetectorConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend         string        `mapstructure:"backend" yaml:"backend"`
	ModelDir        string        `mapstructure:"model_dir" yaml:"model_dir"`
	Runtime         string        `mapstructure:"runtime" yaml:"runtime"`
	SharedLibrary   string        `mapstructure:"shared_library" yaml:"shared_library"`
	SidecarURL      string        `mapstructure:"sidecar_url" yaml:"sidecar_url"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Threshold       float64       `mapstructure:"threshold" yaml:"threshold"`
	ProseConfidence float64       `mapstructure:"prose_confidence" yaml:"prose_confidence"`
	Serialize       bool          `mapstructure:"serialize" yaml:"serialize"`
}

func (d DetectorConfig) ClassifierOptions() classifier.Options {
	return classifier.Options{
		Backend:         d.Backend,
		ModelDir:        expandHome(d.ModelDir),
		Runtime:         d.Runtime,
		SharedLibrary:   expandHome(d.SharedLibrary),
		SidecarURL:      d.SidecarURL,
		Timeout:         d.Timeout,
		ProseConfidence: d.ProseConfidence,
		Serialize:       d.Serialize,
	}
}

type RedactConfig struct {
	// Labels limits redaction to these entity labels; empty redacts all.
	Labels          []string `mapstructure:"labels" yaml:"labels"`
	MaxReplacements int      `mapstructure:"max_replacements" yaml:"max_replacements"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type TraceConfig struct {
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

type ModelsConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
	// Registry overrides the built-in model registry with a JSON file.
	Registry string `mapstructure:"registry" yaml:"registry"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      logging.Config `mapstructure:"log" yaml:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Patterns PatternsConfig `mapstructure:"patterns" yaml:"patterns"`
	General  DetectorConfig `mapstructure:"general" yaml:"general"`
	Domain   DetectorConfig `mapstructure:"domain" yaml:"domain"`
	Redact   RedactConfig   `mapstructure:"redact" yaml:"redact"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Trace    TraceConfig    `mapstructure:"trace" yaml:"trace"`
	Models   ModelsConfig   `mapstructure:"models" yaml:"models"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			CORS:            true,
		},
		Log:      logging.Config{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Pipeline: PipelineConfig{Parallel: true, MaxTextBytes: DefaultMaxTextBytes},
		General: DetectorConfig{
			Enabled:         true,
			Backend:         classifier.BackendProse,
			Timeout:         DefaultBackendTimeout,
			Threshold:       detect.GeneralThreshold,
			ProseConfidence: classifier.DefaultProseConfidence,
		},
		Domain: DetectorConfig{
			Backend:   classifier.BackendONNX,
			Timeout:   DefaultBackendTimeout,
			Threshold: detect.DomainThreshold,
		},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		Trace:   TraceConfig{SampleRate: DefaultTraceSampleRate},
		Models:  ModelsConfig{Root: DefaultModelsRoot},
	}
}

// DefaultPath returns ~/.piiguard/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".piiguard", "config.yaml"), nil
}

func EnsureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := c.Log.Format; f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", f))
	}
	if c.Pipeline.MaxTextBytes < 0 {
		errs = append(errs, errors.New("pipeline.max_text_bytes must not be negative"))
	}
	known := mapset.NewSet(detect.DefaultPatterns().Labels()...)
	for _, l := range c.Patterns.Enabled {
		if !known.Contains(strings.ToUpper(strings.TrimSpace(l))) {
			errs = append(errs, fmt.Errorf("patterns.enabled: unknown label %q", l))
		}
	}
	errs = append(errs, c.General.validate("general")...)
	if c.Domain.Enabled {
		errs = append(errs, c.Domain.validate("domain")...)
	}
	if c.Redact.MaxReplacements < 0 {
		errs = append(errs, errors.New("redact.max_replacements must not be negative"))
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		errs = append(errs, errors.New("trace.sample_rate must be within [0,1]"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}
	return errors.Join(errs...)
}

func (d DetectorConfig) validate(section string) []error {
	var errs []error
	if d.Threshold < 0 || d.Threshold > 1 {
		errs = append(errs, fmt.Errorf("%s.threshold must be within [0,1]", section))
	}
	switch strings.ToLower(d.Backend) {
	case classifier.BackendONNX:
		if d.ModelDir == "" {
			errs = append(errs, fmt.Errorf("%s.model_dir is required for the onnx backend", section))
		}
		if r := strings.ToLower(d.Runtime); r != "" && r != classifier.RuntimePython && r != classifier.RuntimeNative {
			errs = append(errs, fmt.Errorf("%s.runtime must be python or native, got %q", section, d.Runtime))
		}
	case classifier.BackendSidecar:
		if d.SidecarURL == "" {
			errs = append(errs, fmt.Errorf("%s.sidecar_url is required for the sidecar backend", section))
		}
	case classifier.BackendProse:
		if d.ProseConfidence < 0 || d.ProseConfidence > 1 {
			errs = append(errs, fmt.Errorf("%s.prose_confidence must be within [0,1]", section))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.backend must be one of %s, got %q", section, strings.Join(classifier.Backends(), ", "), d.Backend))
	}
	return errs
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
