// Package httpapi exposes the storage services over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the operations the routes dispatch to.
type Services struct {
	Users    *services.UserService
	Tree     *services.TreeService
	Uploads  *services.UploadService
	Deletion *services.DeletionService
	Archives *services.ArchiveService
	Shares   *services.ShareService
}

type Options struct {
	Address         string
	ShutdownTimeout time.Duration
	// MaxChunkSize bounds the multipart memory gin buffers per request.
	MaxChunkSize int64
	MetricsPath  string
	// Gatherer serves MetricsPath; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Server struct {
	opts   Options
	svc    Services
	engine *gin.Engine
	logger logging.Logger
}

func NewServer(opts Options, svc Services, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:   opts,
		svc:    svc,
		logger: logger.With("module", "http_server"),
	}

	r := gin.New()
	if opts.MaxChunkSize > 0 {
		r.MaxMultipartMemory = opts.MaxChunkSize
	}
	r.Use(gin.Recovery(), RequestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil && opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	public := r.Group("/api/public")
	public.GET("/shares/:key", s.publicFetch)
	public.POST("/shares/:key", s.publicFetch)

	api := r.Group("/api", AuthMiddleware(svc.Users))
	api.POST("/uploads/chunk", s.uploadChunk)
	api.POST("/uploads/cancel", s.cancelUpload)
	api.POST("/files", s.uploadFile)
	api.GET("/files", s.list)
	api.GET("/files/:id/download", s.downloadFile)
	api.DELETE("/files/:id", s.deleteFile)
	api.POST("/directories", s.createDirectory)
	api.DELETE("/directories/:id", s.deleteDirectory)
	api.DELETE("/items", s.deleteBatch)
	api.POST("/items/archive", s.downloadArchive)
	api.POST("/shares", s.toggleShare)
	api.GET("/user", s.userInfo)
	api.GET("/users/:id", s.userInfoByID)

	s.engine = r
	return s
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then drains in-flight requests for at most
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "HTTP server shutdown timeout", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
