package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type tokenTable map[string]*models.User

func (tt tokenTable) Authenticate(_ context.Context, token string) (*models.User, error) {
	if u, ok := tt[token]; ok {
		return u, nil
	}
	return nil, errors.New("unknown token")
}

func TestRequestLogger_TagsRequestAndUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewZapLogger(zap.New(core))

	r := gin.New()
	r.Use(RequestLogger(logger))
	api := r.Group("/api", AuthMiddleware(tokenTable{"t-1": {ID: 42, Username: "bob"}}))
	api.GET("/files", func(c *gin.Context) {
		logger.Info(c.Request.Context(), "listing served")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+"t-1")
	req.Header.Set(common.RequestIDHeader, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-abc", w.Header().Get(common.RequestIDHeader))

	served := logs.FilterMessage("listing served").All()
	require.Len(t, served, 1)
	assert.Equal(t, "req-abc", served[0].ContextMap()["request_id"])
	assert.Equal(t, int64(42), served[0].ContextMap()["user_id"])

	access := logs.FilterMessage("Request").All()
	require.Len(t, access, 1)
	assert.Equal(t, int64(42), access[0].ContextMap()["user_id"])
	assert.Equal(t, int64(http.StatusNoContent), access[0].ContextMap()["status"])
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	r := gin.New()
	r.Use(RequestLogger(logging.NewZapLogger(zap.New(core))))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	id := w.Header().Get(common.RequestIDHeader)
	assert.Len(t, id, 36)
	access := logs.FilterMessage("Request").All()
	require.Len(t, access, 1)
	assert.Equal(t, id, access[0].ContextMap()["request_id"])
	assert.NotContains(t, access[0].ContextMap(), "user_id")
}
