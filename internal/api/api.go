// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"drawl/internal/acquire"
	"drawl/internal/config"
	"drawl/internal/llm"
	"drawl/internal/pipeline"
	"drawl/internal/ratelimit"
	"drawl/internal/source"
	"drawl/internal/transcribe"
	"drawl/internal/wave"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Runner is the subset of the pipeline the handlers need.
type Runner interface {
	AnalyzeURL(ctx context.Context, rawURL string) (*pipeline.Report, error)
	AnalyzeUpload(ctx context.Context, filename string, r io.Reader) (*pipeline.Report, error)
}

// Server serves the analysis API.
type Server struct {
	cfg     *config.Config
	pipe    Runner
	limiter *ratelimit.Limiter
	logger  *logrus.Logger
}

// NewServer builds the HTTP surface around an assembled pipeline.
func NewServer(cfg *config.Config, pipe Runner, logger *logrus.Logger) *Server {
	return &Server{
		cfg:     cfg,
		pipe:    pipe,
		limiter: ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour),
		logger:  logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)

	grp := r.Group("/api")
	grp.Use(s.rateLimit())
	{
		grp.POST("/analyze", s.analyze)
		grp.POST("/upload", s.upload)
	}
	return r
}

// Run starts the server on the configured address.
func (s *Server) Run() error {
	addr := s.cfg.Server.ListenAddr
	s.logger.WithField("addr", addr).Info("api listening")
	return s.Router().Run(addr)
}

func (s *Server) health(c *gin.Context) {
	success(c, gin.H{"status": "ok", "service": "drawl"})
}

type analyzeRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "url is required")
		return
	}

	report, err := s.pipe.AnalyzeURL(c.Request.Context(), req.URL)
	if err != nil {
		s.respondError(c, err)
		return
	}
	success(c, gin.H{"report": report})
}

func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file is required")
		return
	}
	if s.cfg.Server.MaxUploadMB > 0 && file.Size > int64(s.cfg.Server.MaxUploadMB)<<20 {
		fail(c, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}

	f, err := file.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "cannot read upload")
		return
	}
	defer f.Close()

	report, err := s.pipe.AnalyzeUpload(c.Request.Context(), file.Filename, f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	success(c, gin.H{"report": report})
}

// rateLimit applies the sliding window limiter per client address.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			fail(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// respondError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	var (
		refErr *source.InvalidReferenceError
		durErr *wave.DurationExceededError
		acqErr *acquire.FailedError
		sttErr *transcribe.Error
		llmErr *llm.Error
	)
	switch {
	case errors.As(err, &refErr):
		fail(c, http.StatusBadRequest, refErr.Error())
	case errors.As(err, &durErr):
		fail(c, http.StatusRequestEntityTooLarge, durErr.Error())
	case errors.As(err, &acqErr):
		fail(c, http.StatusBadGateway, acqErr.Error())
	case errors.As(err, &sttErr):
		fail(c, http.StatusInternalServerError, "transcription failed")
	case errors.As(err, &llmErr):
		fail(c, http.StatusBadGateway, llmErr.Error())
	default:
		s.logger.WithError(err).Error("analysis failed")
		fail(c, http.StatusInternalServerError, "analysis failed")
	}
}

func success(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	})
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{
		"success":   false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"error":     msg,
	})
}
