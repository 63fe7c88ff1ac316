package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medscan"
	"medscan/coordinator"
)

type HandlerOptions struct {
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

const (
	defaultMaxBodyBytes   = 10 << 20
	defaultRequestTimeout = 120 * time.Second
)

// NewHandler routes POST /v1/analyze and GET /health.
func NewHandler(svc *Service, opts HandlerOptions) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(opts.MaxBodyBytes),
	)

	r.GET("/health", healthCheck)
	r.POST("/v1/analyze", analyze(svc, opts.RequestTimeout))

	return r
}

func analyze(svc *Service, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, coordinator.Failure(medscan.StatusError, "Request body is too large.", nil))
				return
			}
			c.JSON(http.StatusBadRequest, coordinator.Failure(medscan.StatusError, "Could not read request body.", nil))
			return
		}

		code, res := svc.Analyze(ctx, c.Request.Header, body)
		c.JSON(code, res)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "available",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("API: Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
