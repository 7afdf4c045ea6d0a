package config

import (
	"strings"
	"time"
)

const (
	DefaultAddr            = "127.0.0.1:8000"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMaxTextBytes   = 256 * 1024
	DefaultBackendTimeout = 10 * time.Second

	DefaultMetricsPath     = "/metrics"
	DefaultTraceSampleRate = 0.1
	DefaultModelsRoot      = "~/.piiguard/models"
)

// ApplyDefaults fills zero-value fields with defaults and expands ~ in
// paths. Explicit settings always win. A domain model directory set
// without domain.enabled turns the domain detector on. A zero threshold
// is treated as unset here; Load keeps an explicit 0 from the file or
// environment.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	def := Default()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = def.Server.MaxBodyBytes
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	applyDetectorDefaults(&cfg.General, def.General)
	applyDetectorDefaults(&cfg.Domain, def.Domain)
	if !cfg.Domain.Enabled && cfg.Domain.ModelDir != "" {
		cfg.Domain.Enabled = true
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
	if cfg.Models.Root == "" {
		cfg.Models.Root = def.Models.Root
	}
	cfg.Models.Root = expandHome(cfg.Models.Root)
	cfg.Models.Registry = expandHome(cfg.Models.Registry)
}

func applyDetectorDefaults(d *DetectorConfig, def DetectorConfig) {
	d.Backend = strings.ToLower(strings.TrimSpace(d.Backend))
	if d.Backend == "" {
		d.Backend = def.Backend
	}
	if d.Timeout == 0 {
		d.Timeout = def.Timeout
	}
	if d.Threshold == 0 {
		d.Threshold = def.Threshold
	}
	if d.ProseConfidence == 0 {
		d.ProseConfidence = def.ProseConfidence
	}
	d.ModelDir = expandHome(d.ModelDir)
}
