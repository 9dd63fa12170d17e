package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const userKey = "user"

// Authenticator resolves a bearer token to its account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware resolves the caller once per request and stores the
// account in the context for the handlers.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeader)
		if header == "" {
			abort(c, http.StatusUnauthorized, "authorization header is required")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			abort(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(userKey, user)
		c.Request = c.Request.WithContext(logging.ContextWith(c.Request.Context(), "user_id", user.ID))
		c.Next()
	}
}

// currentUser returns the account stored by AuthMiddleware.
func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// RequestLogger tags the request with an id, echoed in X-Request-ID and
// carried by every entry logged with the request context, and writes one
// line per request; 4xx are warnings, 5xx errors.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(common.RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Header(common.RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logging.ContextWith(c.Request.Context(), "request_id", requestID))

		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
			"user_agent", c.Request.UserAgent(),
		}
		if query != "" {
			fields = append(fields, "query", query)
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, "error", msg)
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(ctx, "Request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "Request", fields...)
		default:
			logger.Info(ctx, "Request", fields...)
		}
	}
}
