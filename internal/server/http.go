package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/jobmanager"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/orchestrator"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/worker"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitResponse is returned by POST /api/v1/processes.
type SubmitResponse struct {
	ProcessID types.ProcessID `json:"process_id"`
}

// ResetResponse is returned by POST /api/v1/admin/reset.
type ResetResponse struct {
	Reset []types.ProcessID `json:"reset"`
}

type httpConfig struct {
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// HTTPOption configures NewHTTPHandler.
type HTTPOption func(*httpConfig)

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) HTTPOption {
	return func(c *httpConfig) { c.gatherer = g }
}

// WithHTTPLogger sets the request logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(c *httpConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewHTTPHandler builds the HTTP API:
//
//	POST /api/v1/processes             submit, 202 + process_id
//	GET  /api/v1/processes/:id         poll
//	POST /api/v1/processes/:id/cancel  cancel, 202 + state
//	POST /api/v1/admin/reset           force-cancel non-terminal processes
//	GET  /metrics                      prometheus (when a gatherer is set)
//	GET  /healthz
func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	cfg := httpConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.log))

	h := &httpHandler{svc: svc}
	api := r.Group("/api/v1")
	{
		api.POST("/processes", h.submit)
		api.GET("/processes/:id", h.get)
		api.POST("/processes/:id/cancel", h.cancel)
		api.POST("/admin/reset", h.reset)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

type httpHandler struct {
	svc Service
}

func (h *httpHandler) submit(c *gin.Context) {
	var req orchestrator.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	id, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SubmitResponse{ProcessID: id})
}

func (h *httpHandler) get(c *gin.Context) {
	state, err := h.svc.Get(c.Request.Context(), types.ProcessID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) cancel(c *gin.Context) {
	state, err := h.svc.Cancel(c.Request.Context(), types.ProcessID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, state)
}

func (h *httpHandler) reset(c *gin.Context) {
	ids, err := h.svc.Reset(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []types.ProcessID{}
	}
	c.JSON(http.StatusOK, ResetResponse{Reset: ids})
}

func (h *httpHandler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(httpStatus(err), ErrorResponse{Error: err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest), errors.Is(err, processstore.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, processstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processstore.ErrTerminal), errors.Is(err, jobmanager.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, worker.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, orchestrator.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger logs one line per request, at a level chosen by status.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.Errors())
		}
		switch {
		case status >= 500:
			logger.Error("HTTP request", attrs...)
		case status >= 400:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Debug("HTTP request", attrs...)
		}
	}
}
