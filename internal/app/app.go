// Package app assembles the detection pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"piiguard/internal/classifier"
	"piiguard/internal/config"
	"piiguard/internal/detect"
	"piiguard/internal/logging"
)

// Runtime owns the pipeline and the backends it was built from.
type Runtime struct {
	Pipeline *detect.Pipeline
	Patterns detect.PatternTable

	backends []detect.Classifier
}

// Build loads the configured backends and assembles the pipeline. Any
// backend that fails to load aborts start-up.
func Build(ctx context.Context, cfg *config.Config, log logging.Logger, rec detect.Recorder) (*Runtime, error) {
	if log == nil {
		log = logging.NewNop()
	}
	rt := &Runtime{}

	general, err := classifier.New(ctx, cfg.General.ClassifierOptions(), log.Named(detect.SourceGeneral))
	if err != nil {
		return nil, fmt.Errorf("load general detector: %w", err)
	}
	rt.backends = append(rt.backends, general)

	var domain detect.Classifier
	if cfg.Domain.Enabled {
		domain, err = classifier.New(ctx, cfg.Domain.ClassifierOptions(), log.Named(detect.SourceDomain))
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("load domain detector: %w", err)
		}
		rt.backends = append(rt.backends, domain)
	} else {
		log.Info("domain detector disabled")
	}

	rt.Pipeline, rt.Patterns = Assemble(cfg, general, domain, log, rec)
	return rt, nil
}

// Assemble wires already loaded backends into a pipeline. domain may be nil.
func Assemble(cfg *config.Config, general, domain detect.Classifier, log logging.Logger, rec detect.Recorder) (*detect.Pipeline, detect.PatternTable) {
	table := detect.DefaultPatterns().Only(cfg.Patterns.Enabled)
	opts := []detect.Option{
		detect.WithParallel(cfg.Pipeline.Parallel),
		detect.WithMaxBytes(cfg.Pipeline.MaxTextBytes),
		detect.WithLogger(log),
	}
	if rec != nil {
		opts = append(opts, detect.WithRecorder(rec))
	}
	if domain != nil {
		opts = append(opts, detect.WithDomain(detect.NewDomainDetector(domain, cfg.Domain.Threshold)))
	}
	p := detect.NewPipeline(
		detect.NewPatternMatcher(table, detect.MatcherLogger(log)),
		detect.NewGeneralDetector(general, cfg.General.Threshold),
		opts...,
	)
	return p, table
}

// Close releases every backend.
func (r *Runtime) Close() error {
	var errs []error
	for _, b := range r.backends {
		if err := classifier.Close(b); err != nil {
			errs = append(errs, err)
		}
	}
	r.backends = nil
	return errors.Join(errs...)
}
