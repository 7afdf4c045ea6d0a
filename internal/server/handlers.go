package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"piiguard/internal/detect"
	"piiguard/internal/logging"
	"piiguard/internal/sanitizer"
)

// statusClientClosed is the nginx convention for a client that went away.
const statusClientClosed = 499

type predictRequest struct {
	Text *string `json:"text" binding:"required"`
}

// predictResponse positions count code points, so clients can slice the
// text they sent with their own string indexing.
type predictResponse struct {
	PII []detect.Entity `json:"pii"`
}

type redactRequest struct {
	Text   *string  `json:"text" binding:"required"`
	Labels []string `json:"labels"`
}

type redactResponse struct {
	Text  string           `json:"text"`
	Items []sanitizer.Item `json:"items"`
}

type patternInfo struct {
	Label string `json:"label"`
	Expr  string `json:"expr"`
}

type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version,omitempty"`
	Detectors     []string `json:"detectors"`
	Domain        bool     `json:"domain"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "piiguard PII detection API is running"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       s.version,
		Detectors:     s.pipeline.Detectors(),
		Domain:        s.pipeline.HasDomain(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handlePatterns(c *gin.Context) {
	patterns := s.patterns.Patterns()
	out := make([]patternInfo, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, patternInfo{Label: p.Label, Expr: p.Expr})
	}
	c.JSON(http.StatusOK, gin.H{"patterns": out})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot("running"))
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if !s.bind(c, &req) {
		return
	}
	entities, err := s.pipeline.Predict(c.Request.Context(), *req.Text)
	if err == nil {
		entities, err = detect.NewOffsets(*req.Text).CharPositions(entities)
	}
	if err != nil {
		s.predictError(c, err)
		return
	}
	c.JSON(http.StatusOK, predictResponse{PII: entities})
}

func (s *Server) handleRedact(c *gin.Context) {
	var req redactRequest
	if !s.bind(c, &req) {
		return
	}
	entities, err := s.pipeline.Predict(c.Request.Context(), *req.Text)
	if err != nil {
		s.predictError(c, err)
		return
	}
	labels := req.Labels
	if len(labels) == 0 {
		labels = s.cfg.Redact.Labels
	}
	redactor := sanitizer.New(sanitizer.WithLabels(labels...), sanitizer.WithMaxReplacements(s.cfg.Redact.MaxReplacements))
	text, items := redactor.Redact(*req.Text, entities)
	c.JSON(http.StatusOK, redactResponse{Text: text, Items: items})
}

func (s *Server) bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		abortError(c, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	abortError(c, http.StatusBadRequest, "invalid request: body must be JSON with a \"text\" field")
	return false
}

func (s *Server) predictError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, detect.ErrTextTooLarge):
		abortError(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		abortError(c, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		abortError(c, statusClientClosed, "request canceled")
	case errors.Is(err, detect.ErrClassify):
		s.log.Warn("prediction failed", logging.String("request_id", c.GetString(requestIDKey)), logging.Err(err))
		abortError(c, http.StatusServiceUnavailable, "classifier unavailable")
	default:
		s.log.Error("prediction failed", logging.String("request_id", c.GetString(requestIDKey)), logging.Err(err))
		abortError(c, http.StatusInternalServerError, "internal error")
	}
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, RequestID: c.GetString(requestIDKey)})
}
