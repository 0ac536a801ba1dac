package httpapi

import (
	"errors"
	"net/http"

	"casevault/internal/custody"
	"casevault/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps custody errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, custody.ErrInvalidEvent), custody.IsEncodingError(err):
		return http.StatusBadRequest
	case errors.Is(err, custody.ErrChainSealed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, custody.ErrConcurrentAppend):
		return http.StatusConflict
	case errors.Is(err, custody.ErrEmptyChain):
		return http.StatusNotFound
	case custody.IsStorageError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place handlers turn errors into responses.
// Server-side failures are logged; their details are not returned to clients.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "status", status, "err", err)
		msg = http.StatusText(status)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
