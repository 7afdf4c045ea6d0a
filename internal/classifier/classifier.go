// Package classifier provides the token-classification backends behind the
// general and domain detectors.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"piiguard/internal/detect"
	"piiguard/internal/logging"
)

// ErrUnavailable is returned when a backend cannot be loaded.
var ErrUnavailable = errors.New("classifier unavailable")

// Backend names.
const (
	BackendONNX    = "onnx"
	BackendProse   = "prose"
	BackendSidecar = "sidecar"
)

// ONNX session runtimes.
const (
	RuntimePython = "python"
	RuntimeNative = "native"
)

// Backends lists the accepted backend names.
func Backends() []string {
	return []string{BackendONNX, BackendProse, BackendSidecar}
}

// Options selects and configures one backend instance.
type Options struct {
	Backend string
	// ModelDir holds model.onnx, tokenizer.json and config.json or labels.json.
	ModelDir string
	// Runtime is RuntimePython or RuntimeNative; empty picks the build default.
	Runtime string
	// SharedLibrary is the onnxruntime shared library for the native runtime.
	SharedLibrary   string
	SidecarURL      string
	Timeout         time.Duration
	ProseConfidence float64
	// Serialize guards the backend with a mutex.
	Serialize bool
}

// New loads the backend described by opts. Every load failure wraps
// ErrUnavailable.
func New(ctx context.Context, opts Options, log logging.Logger) (detect.Classifier, error) {
	if log == nil {
		log = logging.NewNop()
	}
	var (
		c   detect.Classifier
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendONNX:
		c, err = NewONNX(opts.ModelDir, opts.Runtime, opts.SharedLibrary)
	case BackendProse:
		c = NewProse(opts.ProseConfidence)
	case BackendSidecar:
		c, err = NewSidecar(ctx, opts.SidecarURL, opts.Timeout)
	default:
		err = fmt.Errorf("unknown backend %q", opts.Backend)
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, opts.Backend, err)
	}
	log.Info("classifier loaded",
		logging.String("backend", opts.Backend),
		logging.Int("labels", len(c.Vocabulary())),
		logging.Bool("serialized", opts.Serialize),
	)
	if opts.Serialize {
		c = Serialized(c)
	}
	return c, nil
}

// Close releases c if it holds resources.
func Close(c detect.Classifier) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
