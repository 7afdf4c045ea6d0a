package sanitizer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piiguard/internal/detect"
)

type chunkedReadCloser struct {
	chunks []string
	index  int
}

func (c *chunkedReadCloser) Read(p []byte) (int, error) {
	if c.index >= len(c.chunks) {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[c.index])
	c.index++
	return n, nil
}

func (c *chunkedReadCloser) Close() error { return nil }

const contactText = "Mail a@b.co or a@b.co, call 91234567"

var contactEntities = []detect.Entity{
	{Label: "EMAIL", Text: "a@b.co", Score: 1, Positions: []detect.Position{{5, 11}, {15, 21}}},
	{Label: "PHONE", Text: "91234567", Score: 1, Positions: []detect.Position{{28, 36}}},
}

func TestRedact(t *testing.T) {
	out, items := New().Redact(contactText, contactEntities)
	assert.Equal(t, "Mail [EMAIL_1] or [EMAIL_1], call [PHONE_1]", out)
	assert.Equal(t, []Item{
		{Label: "EMAIL", Original: "a@b.co", Placeholder: "[EMAIL_1]"},
		{Label: "PHONE", Original: "91234567", Placeholder: "[PHONE_1]"},
	}, items)
}

func TestRedact_LabelFilter(t *testing.T) {
	out, items := New(WithLabels(" phone ")).Redact(contactText, contactEntities)
	assert.Equal(t, "Mail a@b.co or a@b.co, call [PHONE_1]", out)
	require.Len(t, items, 1)
	assert.Equal(t, "PHONE", items[0].Label)
}

func TestRedact_MaxReplacements(t *testing.T) {
	out, items := New(WithMaxReplacements(1)).Redact(contactText, contactEntities)
	assert.Equal(t, "Mail [EMAIL_1] or a@b.co, call 91234567", out)
	assert.Len(t, items, 1)
}

func TestRedact_DistinctValuesNumbered(t *testing.T) {
	text := "x@y.io then z@y.io"
	out, items := New().Redact(text, []detect.Entity{
		{Label: "EMAIL", Text: "x@y.io", Positions: []detect.Position{{0, 6}}},
		{Label: "EMAIL", Text: "z@y.io", Positions: []detect.Position{{12, 18}}},
	})
	assert.Equal(t, "[EMAIL_1] then [EMAIL_2]", out)
	assert.Len(t, items, 2)
}

func TestRedact_OverlapKeepsWider(t *testing.T) {
	out, _ := New().Redact("Ann Lee x", []detect.Entity{
		{Label: "PERSON", Text: "Lee", Positions: []detect.Position{{4, 7}}},
		{Label: "PERSON", Text: "Ann Lee", Positions: []detect.Position{{0, 7}}},
	})
	assert.Equal(t, "[PERSON_1] x", out)
}

func TestRedact_IgnoresOutOfRangePositions(t *testing.T) {
	out, items := New().Redact("short", []detect.Entity{
		{Label: "EMAIL", Text: "x", Positions: []detect.Position{{3, 50}, {2, 2}}},
	})
	assert.Equal(t, "short", out)
	assert.Empty(t, items)
}

func TestRedact_Empty(t *testing.T) {
	out, items := New().Redact("", nil)
	assert.Equal(t, "", out)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestRestore(t *testing.T) {
	out, items := New().Redact(contactText, contactEntities)
	assert.Equal(t, contactText, Restore(out, items))
}

func TestRestore_LongestPlaceholderFirst(t *testing.T) {
	items := []Item{
		{Label: "EMAIL", Original: "a", Placeholder: "[EMAIL_1]"},
		{Label: "EMAIL", Original: "b", Placeholder: "[EMAIL_10]"},
	}
	assert.Equal(t, "b a", Restore("[EMAIL_10] [EMAIL_1]", items))
}

var emailItems = []Item{{Label: "EMAIL", Original: "alice@company.com", Placeholder: "[EMAIL_1]"}}

func TestStreamingRestorer_SplitPlaceholder(t *testing.T) {
	restorer := NewStreamingRestorer(&chunkedReadCloser{chunks: []string{
		"Contact me at [EM",
		"AIL_1] for details",
	}}, emailItems)
	defer restorer.Close()

	body, err := io.ReadAll(restorer)
	require.NoError(t, err)
	assert.Equal(t, "Contact me at alice@company.com for details", string(body))
}

func TestStreamingRestorer_SplitAtBoundary(t *testing.T) {
	restorer := NewStreamingRestorer(&chunkedReadCloser{chunks: []string{"[EMAIL_", "1]"}}, emailItems)
	defer restorer.Close()

	body, err := io.ReadAll(restorer)
	require.NoError(t, err)
	assert.Equal(t, "alice@company.com", string(body))
}

func TestStreamingRestorer_NoItemsPassesThrough(t *testing.T) {
	restorer := NewStreamingRestorer(&chunkedReadCloser{chunks: []string{"[EMAIL_", "1] ok"}}, nil)
	body, err := io.ReadAll(restorer)
	require.NoError(t, err)
	assert.Equal(t, "[EMAIL_1] ok", string(body))
}

func BenchmarkStreamingRestorer(b *testing.B) {
	payload := "data: [EMAIL_1] says hello\n\n"
	chunk := make([]byte, 64)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		restorer := NewStreamingRestorer(io.NopCloser(bytes.NewBufferString(payload)), emailItems)
		for {
			_, err := restorer.Read(chunk)
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatalf("read failed: %v", err)
			}
		}
		_ = restorer.Close()
	}
}
