package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/gin-gonic/gin"
)

// statusFor maps the service error taxonomy onto HTTP.
func statusFor(err error) int {
	var missing *common.MissingChunkError
	switch {
	case errors.As(err, &missing):
		return http.StatusInternalServerError
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Internal details never leave
// the server except for a missing chunk, which the client can act on.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		var missing *common.MissingChunkError
		if errors.As(err, &missing) {
			msg = missing.Error()
		} else {
			msg = "internal server error"
		}
	}
	abort(c, status, msg)
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

func badRequest(c *gin.Context, msg string) {
	abort(c, http.StatusBadRequest, msg)
}
