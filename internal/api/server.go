package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/health"
	"github.com/supplement-advisor-server/internal/middleware"
	"github.com/supplement-advisor-server/internal/pattern"
)

const version = "1.0.0"

// PatternService administers the learned pattern library.
type PatternService interface {
	PatternStats() pattern.Stats
	RecordPatternFeedback(ctx context.Context, id string, fb domain.PatternFeedback) (*domain.Pattern, error)
	ExportPatterns(ctx context.Context, w io.Writer) error
	ImportPatterns(ctx context.Context, r io.Reader) (imported int, skipped int, err error)
}

// HealthReporter runs dependency checks.
type HealthReporter interface {
	Run(ctx context.Context) health.Report
}

// Server represents the HTTP server
type Server struct {
	config   domain.ServerConfig
	sessions domain.SessionAPI
	patterns PatternService
	health   HealthReporter
	logger   *logrus.Logger
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP server instance. patterns may be nil, in which
// case the pattern routes answer 404.
func NewServer(config domain.ServerConfig, sessions domain.SessionAPI, patterns PatternService, logger *logrus.Logger) *Server {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders())

	s := &Server{
		config:   config,
		sessions: sessions,
		patterns: patterns,
		logger:   logger,
		router:   router,
	}
	s.setupRoutes()
	return s
}

// SetHealthReporter makes /health report dependency checks. Without one the
// route only reports that the process is up.
func (s *Server) SetHealthReporter(h HealthReporter) {
	s.health = h
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.GET("/sessions/:id/status", s.handleGetStatus)
		v1.POST("/sessions/:id/answers", s.handleSubmitAnswer)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
		v1.GET("/patterns/stats", s.handlePatternStats)
		v1.GET("/patterns/export", s.handleExportPatterns)
		v1.POST("/patterns/import", s.handleImportPatterns)
		v1.POST("/patterns/:id/feedback", s.handlePatternFeedback)
		v1.GET("/conversation", s.handleConversation)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    health.StateHealthy,
			"timestamp": time.Now().UTC(),
			"version":   version,
		})
		return
	}

	report := s.health.Run(c.Request.Context())
	code := http.StatusOK
	if report.Overall == health.StateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     report.Overall,
		"timestamp":  report.Timestamp.UTC(),
		"version":    version,
		"components": report.Components,
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var snapshot domain.HealthSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		s.renderError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	sess, err := s.sessions.CreateSession(c.Request.Context(), snapshot)
	if err != nil {
		if sess != nil {
			// The analysis failed after the session was created.
			code, status := domain.ErrorCodeFor(err)
			c.JSON(status, gin.H{
				"session":        sess,
				"failure_reason": sess.FailureReason,
				"error":          s.serviceError(c, code, err),
			})
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleGetStatus(c *gin.Context) {
	report, err := s.sessions.GetSessionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	AnswerText string `json:"answer_text"`
}

func (s *Server) handleSubmitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	answer := domain.Answer{
		QuestionID: req.QuestionID,
		AnswerText: req.AnswerText,
		Timestamp:  time.Now().UTC(),
	}
	result, err := s.sessions.SubmitAnswer(c.Request.Context(), c.Param("id"), answer)
	if err != nil {
		if result != nil {
			code, status := domain.ErrorCodeFor(err)
			c.JSON(status, gin.H{
				"analysis_result": result,
				"failure_reason":  err.Error(),
				"error":           s.serviceError(c, code, err),
			})
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePatternStats(c *gin.Context) {
	if !s.patternsEnabled(c) {
		return
	}
	c.JSON(http.StatusOK, s.patterns.PatternStats())
}

type feedbackRequest struct {
	Helpful *bool  `json:"helpful"`
	Note    string `json:"note"`
}

func (s *Server) handlePatternFeedback(c *gin.Context) {
	if !s.patternsEnabled(c) {
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	if req.Helpful == nil {
		s.renderError(c, domain.NewValidationError("helpful", "is required", nil))
		return
	}

	p, err := s.patterns.RecordPatternFeedback(c.Request.Context(), c.Param("id"), domain.PatternFeedback{
		Helpful:    *req.Helpful,
		Note:       req.Note,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleExportPatterns(c *gin.Context) {
	if !s.patternsEnabled(c) {
		return
	}
	var buf bytes.Buffer
	if err := s.patterns.ExportPatterns(c.Request.Context(), &buf); err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="patterns_%s.json"`, time.Now().UTC().Format("20060102_150405")))
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

func (s *Server) handleImportPatterns(c *gin.Context) {
	if !s.patternsEnabled(c) {
		return
	}
	imported, skipped, err := s.patterns.ImportPatterns(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

func (s *Server) patternsEnabled(c *gin.Context) bool {
	if s.patterns == nil {
		s.renderError(c, fmt.Errorf("pattern library: %w", domain.ErrNotFound))
		return false
	}
	return true
}

func (s *Server) renderError(c *gin.Context, err error) {
	code, status := domain.ErrorCodeFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", c.GetString(middleware.RequestIDKey)).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": s.serviceError(c, code, err)})
}

func (s *Server) serviceError(c *gin.Context, code string, err error) *domain.ServiceError {
	var validationErr *domain.ValidationError
	details := ""
	if errors.As(err, &validationErr) {
		details = validationErr.Field
	}
	return domain.NewServiceError(code, err.Error(), details, c.GetString(middleware.RequestIDKey))
}
