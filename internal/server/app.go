// Package server wires the storage services together and runs them: the
// HTTP API, the stale session reaper and the periodic reconciler.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/httpapi"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager *repomanager.SQLRepositoryManager

	users      *services.UserService
	reconciler *services.Reconciler
	reaper     *services.Reaper
	server     *httpapi.Server
}

// NewApp opens the metadata store and builds every service. The caller owns
// the returned App and must Close it.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	root, err := filex.EnsureDir(c.Storage.UploadFolder)
	if err != nil {
		return nil, fmt.Errorf("upload folder init error: %w", err)
	}

	db, err := repomanager.Open(ctx, c.Database.Driver, c.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewSQLRepositoryManager(c.Database.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if c.Database.AutoMigrate {
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations error: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(reg)

	layout := services.NewLayout(root)
	store := sessions.NewStore(root)
	locks := sessions.NewLocks(root)

	quota := services.NewQuotaLedger(db, rm)
	tree := services.NewTreeService(db, rm, layout, logger)
	archives := services.NewArchiveService(db, rm, logger, mtr)
	users := services.NewUserService(db, rm, layout, logger, c.Auth.SecretKey, c.Auth.TokenValidity, c.Storage.DefaultQuotaBytes)

	svc := httpapi.Services{
		Users: users,
		Tree:  tree,
		Uploads: services.NewUploadService(db, rm, tree, quota, store, locks, layout, services.UploadOptions{
			MaxChunkSize:      c.HTTP.MaxChunkSizeBytes,
			AllowedExtensions: c.Storage.AllowedExtensions,
		}, logger, mtr),
		Deletion: services.NewDeletionService(db, rm, quota, layout, logger, mtr),
		Archives: archives,
		Shares:   services.NewShareService(db, rm, archives, logger),
	}

	opts := httpapi.Options{
		Address:         c.HTTP.Address,
		ShutdownTimeout: c.HTTP.ShutdownTimeout,
		MaxChunkSize:    c.HTTP.MaxChunkSizeBytes,
	}
	if c.Metrics.Enabled {
		opts.MetricsPath = c.Metrics.Path
		opts.Gatherer = reg
	}

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: rm,
		users:       users,
		reconciler:  services.NewReconciler(db, rm, layout, c.Reconcile.Interval, logger, mtr),
		reaper: services.NewReaper(services.ReaperConfig{
			Enabled:        c.Reaper.Enabled,
			Interval:       c.Reaper.Interval,
			StaleThreshold: c.Reaper.StaleThreshold,
		}, store, locks, logger, mtr),
		server: httpapi.NewServer(opts, svc, logger),
	}, nil
}

// Users exposes account administration for the command line.
func (app *App) Users() *services.UserService {
	return app.users
}

func (app *App) Reconciler() *services.Reconciler {
	return app.reconciler
}

func (app *App) Reaper() *services.Reaper {
	return app.reaper
}

// Migrate applies pending schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	return app.repomanager.RunMigrations(ctx, app.db)
}

func (app *App) Close() error {
	return app.db.Close()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a signal arrives. A failure of any
// component stops the others.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.server.Run(ctx) })
	g.Go(func() error { return app.reaper.Run(ctx) })
	g.Go(func() error { return app.reconciler.Run(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	app.logger.Info(context.Background(), "App stopped")
	return err
}

// NewLogger builds the process logger from the log section.
func NewLogger(c config.LogConfig) (*logging.ZapLogger, error) {
	return logging.New(logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.Rotation.MaxSizeMB,
		MaxBackups: c.Rotation.MaxBackups,
		MaxAgeDays: c.Rotation.MaxAgeDays,
		Compress:   c.Rotation.Compress,
	})
}
