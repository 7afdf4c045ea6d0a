package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piiguard/internal/classifier"
	"piiguard/internal/config"
	"piiguard/internal/detect"
)

type stubClassifier struct {
	rows  []detect.TokenRow
	vocab detect.Vocabulary
}

func (s stubClassifier) Classify(context.Context, string) ([]detect.TokenRow, error) {
	return s.rows, nil
}

func (s stubClassifier) Vocabulary() detect.Vocabulary { return s.vocab }

func TestAssemble(t *testing.T) {
	cfg := config.Default()
	cfg.Patterns.Enabled = []string{"email"}
	cfg.Pipeline.Parallel = false

	text := "Tan Ah Kow mailed a@b.co"
	general := stubClassifier{
		vocab: detect.Vocabulary{0: "O", 1: "B-PER", 2: "I-PER"},
		rows: []detect.TokenRow{
			{Start: 0, End: 3, LabelID: 1, Probability: 0.95},
			{Start: 4, End: 6, LabelID: 2, Probability: 0.9},
			{Start: 7, End: 10, LabelID: 2, Probability: 0.9},
		},
	}
	p, table := Assemble(&cfg, general, nil, nil, nil)
	assert.Equal(t, []string{detect.LabelEmail}, table.Labels())
	assert.False(t, p.HasDomain())

	got, err := p.Predict(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "PERSON", got[0].Label)
	assert.Equal(t, "Tan Ah Kow", got[0].Text)
	assert.Equal(t, "EMAIL", got[1].Label)
}

func TestAssemble_Domain(t *testing.T) {
	cfg := config.Default()
	domain := stubClassifier{
		vocab: detect.Vocabulary{0: "O", 1: "B-BANK"},
		rows:  []detect.TokenRow{{Start: 0, End: 5, LabelID: 1, Probability: 0.75}},
	}
	general := stubClassifier{vocab: detect.Vocabulary{0: "O"}}
	p, _ := Assemble(&cfg, general, domain, nil, nil)
	assert.True(t, p.HasDomain())
	assert.Equal(t, []string{detect.SourcePattern, detect.SourceGeneral, detect.SourceDomain}, p.Detectors())

	got, err := p.Predict(context.Background(), "12345 ok")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BANK", got[0].Label)
}

func TestBuild_Prose(t *testing.T) {
	cfg := config.Default()
	rt, err := Build(context.Background(), &cfg, nil, nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.False(t, rt.Pipeline.HasDomain())
	got, err := rt.Pipeline.Predict(context.Background(), "write to a@b.co")
	require.NoError(t, err)
	var labels []string
	for _, e := range got {
		labels = append(labels, e.Label)
	}
	assert.Contains(t, labels, detect.LabelEmail)
}

func TestBuild_DomainLoadFailureIsFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Domain.Enabled = true
	cfg.Domain.ModelDir = filepath.Join(t.TempDir(), "missing")

	_, err := Build(context.Background(), &cfg, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, classifier.ErrUnavailable)
	assert.Contains(t, err.Error(), "load domain detector")
}
