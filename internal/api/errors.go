package api

import (
	"errors"
	"log/slog"
	"net/http"

	"tradesim/internal/domain"
	"tradesim/internal/support"

	"github.com/gin-gonic/gin"
)

var errBadRequest = errors.New("malformed request")

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAccountSuspended):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInsufficientAsset):
		return http.StatusUnprocessableEntity
	case domain.IsRejection(err),
		errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, support.ErrEmptyMessage),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// abort logs err and writes the JSON error body. Internal errors are not
// echoed to the caller.
func (s *Server) abort(c *gin.Context, err error) {
	status := statusFor(err)
	requestID := c.GetString(RequestIDContextKey)

	msg := err.Error()
	level := slog.LevelInfo
	if status == http.StatusInternalServerError {
		msg = "internal server error"
		level = slog.LevelError
	}

	s.Logger.Log(c.Request.Context(), level, "API error",
		slog.String("request_id", requestID),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
		slog.Int("status_code", status),
	)

	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"request_id": requestID,
	})
}
