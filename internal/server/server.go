// Package server serves the geospatial analysis endpoint over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jonwraymond/geoexec/pipeline"
	"github.com/jonwraymond/geoexec/toolset"
)

// ErrPipelineRequired is returned by New without a pipeline.
var ErrPipelineRequired = errors.New("server: Pipeline is required")

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default: :8080
	Addr string

	// Pipeline runs analyses.
	// Required.
	Pipeline toolset.Pipeline

	// AllowOrigins lists CORS origins. Default: all.
	AllowOrigins []string

	// Logger is optional.
	Logger Logger
}

// AnalyzeRequest is the body of POST /geospatial.
type AnalyzeRequest struct {
	Task    string          `json:"task" validate:"required"`
	GeoJSON json.RawMessage `json:"geojson"`
	Model   string          `json:"model"`
}

// Server is the HTTP front end.
type Server struct {
	opts     Options
	validate *validator.Validate
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Server{opts: opts, validate: validator.New()}, nil
}

// Routes registers the endpoints on r.
func (s *Server) Routes(r gin.IRoutes) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:  s.opts.AllowOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	r.GET("/healthz", s.health)
	r.POST("/geospatial", s.analyze)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	router, err := graceful.Default(graceful.WithAddr(s.opts.Addr))
	if err != nil {
		return err
	}
	defer router.Close()

	s.Routes(router)
	s.opts.Logger.Info("serving", "addr", s.opts.Addr)
	if err := router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := s.parse(c, &req); err != nil {
		s.opts.Logger.Warn("rejected request", "error", err)
		c.JSON(http.StatusBadRequest, toolset.Report{
			Status: toolset.StatusError,
			Error:  &toolset.ReportError{Kind: pipeline.KindMalformedInput, Message: err.Error()},
		})
		return
	}
	geojson, err := toolset.Collection(req.GeoJSON)
	if err != nil {
		c.JSON(http.StatusBadRequest, toolset.Report{
			Status: toolset.StatusError,
			Error:  &toolset.ReportError{Kind: pipeline.KindMalformedInput, Message: err.Error()},
		})
		return
	}

	res, err := s.opts.Pipeline.Analyze(c.Request.Context(), pipeline.Request{
		Task:    req.Task,
		GeoJSON: geojson,
		Model:   req.Model,
	})
	report := toolset.NewReport(res, err)
	if err != nil {
		s.opts.Logger.Warn("analysis failed", "id", res.ID, "error", err)
	}
	c.JSON(statusFor(err), report)
}

func (s *Server) parse(c *gin.Context, dto any) error {
	if err := c.ShouldBindJSON(dto); err != nil {
		return err
	}
	return s.validate.Struct(dto)
}

// statusFor maps a pipeline failure to an HTTP status.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case pipeline.KindMalformedInput:
		return http.StatusBadRequest
	case pipeline.KindExtractionMiss, pipeline.KindCodeSyntaxError, pipeline.KindCodeRuntimeError,
		pipeline.KindResultMissing, pipeline.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case pipeline.KindServiceError:
		return http.StatusBadGateway
	case pipeline.KindSandboxUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.KindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
