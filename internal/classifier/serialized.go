package classifier

import (
	"context"
	"sync"

	"piiguard/internal/detect"
)

type serialized struct {
	mu sync.Mutex
	c  detect.Classifier
}

// Serialized returns a classifier that runs at most one Classify call on c
// at a time.
func Serialized(c detect.Classifier) detect.Classifier {
	if s, ok := c.(*serialized); ok {
		return s
	}
	return &serialized{c: c}
}

func (s *serialized) Classify(ctx context.Context, text string) ([]detect.TokenRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.c.Classify(ctx, text)
}

func (s *serialized) Vocabulary() detect.Vocabulary { return s.c.Vocabulary() }

func (s *serialized) Close() error { return Close(s.c) }
