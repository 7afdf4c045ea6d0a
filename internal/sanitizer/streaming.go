package sanitizer

import (
	"errors"
	"io"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const readChunk = 4096

// StreamingRestorer restores placeholders in a stream without buffering it.
// A chunk tail that could still grow into a placeholder is held back until
// the next read.
type StreamingRestorer struct {
	src      io.ReadCloser
	replacer *strings.Replacer
	// prefixes holds every proper prefix of every placeholder.
	prefixes mapset.Set[string]
	longest  int

	buf     []byte
	pending []byte
	ready   []byte
	done    bool
}

func NewStreamingRestorer(src io.ReadCloser, items []Item) *StreamingRestorer {
	r := &StreamingRestorer{
		src:      src,
		prefixes: mapset.NewThreadUnsafeSet[string](),
		buf:      make([]byte, readChunk),
	}
	mapping := Mapping(items)
	if len(mapping) == 0 {
		return r
	}
	r.replacer = newReplacer(mapping)
	for ph := range mapping {
		if len(ph) > r.longest {
			r.longest = len(ph)
		}
		for i := 1; i < len(ph); i++ {
			r.prefixes.Add(ph[:i])
		}
	}
	return r
}

func (r *StreamingRestorer) Read(p []byte) (int, error) {
	for len(r.ready) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.ready)
	r.ready = r.ready[n:]
	return n, nil
}

func (r *StreamingRestorer) fill() error {
	n, err := r.src.Read(r.buf)
	data := append(r.pending, r.buf[:n]...)
	r.pending = nil

	if errors.Is(err, io.EOF) {
		r.done = true
		r.emit(data)
		return nil
	}
	if err != nil {
		r.pending = data
		return err
	}
	keep := r.holdBack(data)
	r.emit(data[:len(data)-keep])
	r.pending = append([]byte(nil), data[len(data)-keep:]...)
	return nil
}

// holdBack returns the length of the longest suffix of data that is a
// proper prefix of some placeholder.
func (r *StreamingRestorer) holdBack(data []byte) int {
	n := r.longest - 1
	if n > len(data) {
		n = len(data)
	}
	for ; n > 0; n-- {
		if r.prefixes.Contains(string(data[len(data)-n:])) {
			return n
		}
	}
	return 0
}

func (r *StreamingRestorer) emit(data []byte) {
	if len(data) == 0 {
		return
	}
	if r.replacer == nil {
		r.ready = append(r.ready, data...)
		return
	}
	r.ready = append(r.ready, r.replacer.Replace(string(data))...)
}

func (r *StreamingRestorer) Close() error {
	r.ready, r.pending = nil, nil
	return r.src.Close()
}
