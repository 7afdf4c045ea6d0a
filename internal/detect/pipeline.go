package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"piiguard/internal/logging"
	"piiguard/internal/trace"
)

// Detector names, also used as metric and trace labels.
const (
	SourcePattern = "pattern"
	SourceGeneral = "general"
	SourceDomain  = "domain"
)

// ErrTextTooLarge is returned when a text exceeds the configured limit.
var ErrTextTooLarge = errors.New("text too large")

// Recorder receives per-request measurements. The stats collector
// implements it.
type Recorder interface {
	ObserveDetector(name string, elapsed time.Duration, spans, skipped int, err error)
	ObserveEntities(entities []Entity)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDetector(string, time.Duration, int, int, error) {}
func (nopRecorder) ObserveEntities([]Entity)                               {}

// ModelDetector runs a classification backend and decodes its rows into
// spans.
type ModelDetector struct {
	name    string
	backend Classifier
	decoder ChunkDecoder
	vocab   Vocabulary
}

func NewModelDetector(name string, backend Classifier, decoder ChunkDecoder) *ModelDetector {
	return &ModelDetector{name: name, backend: backend, decoder: decoder, vocab: backend.Vocabulary()}
}

// NewGeneralDetector decodes a general NER backend with the default
// threshold and PER/LOC/MISC remapping.
func NewGeneralDetector(backend Classifier, threshold float64) *ModelDetector {
	return NewModelDetector(SourceGeneral, backend, NewChunkDecoder(threshold, GeneralLabelRemap()))
}

// NewDomainDetector decodes a domain backend, keeping its labels verbatim.
func NewDomainDetector(backend Classifier, threshold float64) *ModelDetector {
	return NewModelDetector(SourceDomain, backend, NewChunkDecoder(threshold, nil))
}

func (d *ModelDetector) Name() string { return d.name }

func (d *ModelDetector) Detect(ctx context.Context, text string) (Detection, error) {
	rows, err := d.backend.Classify(ctx, text)
	if err != nil {
		return Detection{}, err
	}
	spans, skipped := d.decoder.Decode(text, rows, d.vocab)
	return Detection{Spans: spans, Skipped: skipped}, nil
}

// Pipeline runs the pattern matcher and model detectors over one text and
// reduces their candidates to grouped entities.
type Pipeline struct {
	detectors []Detector
	domain    Detector
	parallel  bool
	maxBytes  int
	log       logging.Logger
	rec       Recorder
}

type Option func(*Pipeline)

// WithDomain adds a domain detector, run after the general one.
func WithDomain(d Detector) Option {
	return func(p *Pipeline) { p.domain = d }
}

// WithParallel runs detectors concurrently. Output does not depend on it.
func WithParallel(parallel bool) Option {
	return func(p *Pipeline) { p.parallel = parallel }
}

// WithMaxBytes rejects texts longer than n bytes. Zero disables the limit.
func WithMaxBytes(n int) Option {
	return func(p *Pipeline) { p.maxBytes = n }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.rec = r
		}
	}
}

func NewPipeline(patterns, general Detector, opts ...Option) *Pipeline {
	p := &Pipeline{log: logging.NewNop(), rec: nopRecorder{}}
	for _, opt := range opts {
		opt(p)
	}
	p.detectors = []Detector{patterns, general}
	if p.domain != nil {
		p.detectors = append(p.detectors, p.domain)
	}
	return p
}

// HasDomain reports whether a domain detector is configured.
func (p *Pipeline) HasDomain() bool { return p.domain != nil }

// Detectors returns detector names in concatenation order.
func (p *Pipeline) Detectors() []string {
	out := make([]string, 0, len(p.detectors))
	for _, d := range p.detectors {
		out = append(out, d.Name())
	}
	return out
}

// Predict returns the grouped entities found in text. Candidates are
// concatenated as pattern, general, domain before merging, so results are
// identical whether detectors run sequentially or in parallel.
func (p *Pipeline) Predict(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return []Entity{}, nil
	}
	if p.maxBytes > 0 && len(text) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTextTooLarge, len(text), p.maxBytes)
	}
	tr, _ := trace.FromContext(ctx)

	results, err := p.detect(ctx, text, tr)
	if err != nil {
		return nil, err
	}

	var candidates []Span
	for _, r := range results {
		candidates = append(candidates, r.Spans...)
	}

	start := time.Now()
	merged := MergeSpans(candidates)
	tr.Mark(trace.StageMerge, time.Since(start))

	start = time.Now()
	entities := Aggregate(merged)
	tr.Mark(trace.StageAggregate, time.Since(start))

	if tr != nil {
		tr.TextBytes = len(text)
		tr.Entities = len(entities)
	}
	p.rec.ObserveEntities(entities)
	p.log.Debug("predict",
		logging.Int("text_bytes", len(text)),
		logging.Int("candidates", len(candidates)),
		logging.Int("merged", len(merged)),
		logging.Int("entities", len(entities)),
	)
	return entities, nil
}

func (p *Pipeline) detect(ctx context.Context, text string, tr *trace.RequestTrace) ([]Detection, error) {
	results := make([]Detection, len(p.detectors))
	run := func(ctx context.Context, i int) error {
		d := p.detectors[i]
		start := time.Now()
		det, err := d.Detect(ctx, text)
		elapsed := time.Since(start)
		tr.Mark(d.Name(), elapsed)
		p.rec.ObserveDetector(d.Name(), elapsed, len(det.Spans), det.Skipped, err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.log.Warn("detector failed", logging.String("detector", d.Name()), logging.Err(err))
			return fmt.Errorf("%w: %s: %w", ErrClassify, d.Name(), err)
		}
		if det.Skipped > 0 {
			p.log.Debug("skipped malformed rows", logging.String("detector", d.Name()), logging.Int("rows", det.Skipped))
		}
		results[i] = det
		return nil
	}

	if !p.parallel {
		for i := range p.detectors {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := run(ctx, i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.detectors {
		i := i
		g.Go(func() error { return run(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
