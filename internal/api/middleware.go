package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tradesim/internal/auth"
	"tradesim/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(RequestIDContextKey, requestID)
		c.Next()
	}
}

// loggerMiddleware logs every request through slog and feeds the metrics.
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		if s.Metrics != nil {
			s.Metrics.RecordRequest(latency)
			if status >= http.StatusInternalServerError {
				s.Metrics.RecordError()
			}
		}

		s.Logger.Debug("request",
			slog.String("request_id", c.GetString(RequestIDContextKey)),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authMiddleware requires a bearer token and stores the caller's identity.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			s.abort(c, domain.ErrAuth)
			return
		}
		id, err := s.Auth.Verify(token)
		if err != nil {
			s.abort(c, err)
			return
		}
		c.Set(identityContextKey, id)
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "admin only",
				"request_id": c.GetString(RequestIDContextKey),
			})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func identity(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityContextKey)
	id, _ := v.(auth.Identity)
	return id
}
