package stats

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piiguard/internal/detect"
)

var _ detect.Recorder = (*Collector)(nil)

func TestCollector_Detectors(t *testing.T) {
	c := NewCollector()
	c.ObserveDetector(detect.SourceGeneral, 2*time.Millisecond, 3, 1, nil)
	c.ObserveDetector(detect.SourceGeneral, 4*time.Millisecond, 0, 0, errors.New("boom"))
	c.ObserveDetector(detect.SourcePattern, time.Millisecond, 2, 0, nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.detectorSpans.WithLabelValues(detect.SourceGeneral)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skippedRows.WithLabelValues(detect.SourceGeneral)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.detectorErrors.WithLabelValues(detect.SourceGeneral)))

	s := c.Snapshot("running")
	require.Len(t, s.Detectors, 2)
	general := s.Detectors[0]
	assert.Equal(t, detect.SourceGeneral, general.Name)
	assert.Equal(t, int64(2), general.Calls)
	assert.Equal(t, int64(1), general.Errors)
	assert.Equal(t, int64(3), general.Spans)
	assert.InDelta(t, 3.0, general.AvgMs, 0.001)
	assert.Equal(t, detect.SourcePattern, s.Detectors[1].Name)
}

func TestCollector_Entities(t *testing.T) {
	c := NewCollector()
	c.ObserveEntities([]detect.Entity{{Label: "EMAIL"}, {Label: "PERSON"}, {Label: "EMAIL"}})
	c.ObserveEntities(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.predictions))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.entities.WithLabelValues("EMAIL")))

	s := c.Snapshot("running")
	assert.Equal(t, "running", s.Status)
	assert.Equal(t, int64(2), s.Predictions)
	assert.Equal(t, 3, s.Entities.Total)
	assert.Equal(t, map[string]int{"EMAIL": 2, "PERSON": 1}, s.Entities.ByLabel)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTP("/predict", http.MethodPost, http.StatusOK, 5*time.Millisecond)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `piiguard_http_requests_total{method="POST",route="/predict",status="200"} 1`)
	assert.Contains(t, body, "piiguard_http_request_duration_seconds")
}
