// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/guildsync/internal/api"
	"github.com/starford/guildsync/internal/assetservice"
	"github.com/starford/guildsync/internal/codec"
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/manifest"
	"github.com/starford/guildsync/internal/mcpserver"
	"github.com/starford/guildsync/internal/models"
	"github.com/starford/guildsync/internal/refscan"
	"github.com/starford/guildsync/internal/sse"
	"github.com/starford/guildsync/internal/watch"
)

// SyncRequest selects what a sync command works on. An empty Character syncs
// every configured character.
type SyncRequest struct {
	Character string
	Rebuild   bool
}

// RefsResult is the outcome of a reference scan.
type RefsResult struct {
	Refs    []refscan.Ref
	Missing []refscan.Ref
}

// env holds the components shared by every command.
type env struct {
	cfg    *Config
	logger *slog.Logger
	db     *manifest.DB
	svc    *assetservice.Service
	closer func()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{stderr: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the JSON logger, teeing into a rotated file when
// app.log_file is set.
func (a *application) newLogger() (*slog.Logger, func()) {
	cfg := a.config
	out := a.stderr
	closer := func() {}
	if cfg.App.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.App.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(a.stderr, lj)
		closer = func() { _ = lj.Close() }
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger, closer
}

// open initializes logging, the manifest and the asset service. onEvent may be nil.
func (a *application) open(onEvent func(assetservice.Event)) (*env, error) {
	cfg := a.config
	logger, closeLog := a.newLogger()

	logger.Debug("Configuration loaded",
		slog.String("intake_path", cfg.Intake.Path),
		slog.String("target_root", cfg.Target.Root),
		slog.String("manifest_path", cfg.Manifest.Path),
		slog.Int("characters", len(cfg.Characters)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := manifest.Open(cfg.Manifest.Path)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("init manifest: %w", err)
	}

	syncer := gallery.New(codec.NewWebP(cfg.Codec.Quality, cfg.Codec.Lossless),
		gallery.WithManifest(db),
		gallery.WithLogger(logger),
		gallery.WithWorkers(cfg.Sync.Workers),
	)

	svcOpts := []assetservice.Option{assetservice.WithLogger(logger)}
	if onEvent != nil {
		svcOpts = append(svcOpts, assetservice.WithEvents(onEvent))
	}
	svc := assetservice.New(assetservice.Config{
		IntakePath: cfg.Intake.Path,
		IntakeExts: cfg.Intake.Extensions,
		TargetRoot: cfg.Target.Root,
	}, characters(cfg), syncer, db, svcOpts...)

	return &env{
		cfg:    cfg,
		logger: logger,
		db:     db,
		svc:    svc,
		closer: func() {
			if err := db.Close(); err != nil {
				logger.Error("close manifest", slog.String("error", err.Error()))
			}
			closeLog()
		},
	}, nil
}

func characters(cfg *Config) []assetservice.Character {
	out := make([]assetservice.Character, 0, len(cfg.Characters))
	for i := range cfg.Characters {
		c := &cfg.Characters[i]
		out = append(out, assetservice.Character{
			Key:        c.Key(),
			Prefix:     c.GalleryPrefix,
			Preserved:  c.Preserved,
			Promotions: c.GalleryPromotions(),
			MaxHeight:  c.MaxHeight,
		})
	}
	return out
}

// Sync runs one synchronization pass. Reports are returned for every
// character that got far enough to produce one, even when err is non-nil.
func Sync(ctx context.Context, req SyncRequest, opts ...Option) ([]*gallery.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	e, err := app.open(nil)
	if err != nil {
		return nil, err
	}
	defer e.closer()

	syncOpts := assetservice.SyncOptions{Rebuild: req.Rebuild}
	if req.Character == "" {
		return e.svc.SyncAll(ctx, syncOpts)
	}
	key, err := models.ParseCharacterKey(req.Character)
	if err != nil {
		return nil, err
	}
	rep, err := e.svc.Sync(ctx, key, syncOpts)
	if rep == nil {
		return nil, err
	}
	return []*gallery.Report{rep}, err
}

// Renumber closes gaps in one character's gallery.
func Renumber(ctx context.Context, character string, opts ...Option) (*gallery.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	key, err := models.ParseCharacterKey(character)
	if err != nil {
		return nil, err
	}
	e, err := app.open(nil)
	if err != nil {
		return nil, err
	}
	defer e.closer()
	return e.svc.Renumber(ctx, key)
}

// Runs returns the newest recorded runs of one character.
func Runs(ctx context.Context, character string, limit int, opts ...Option) ([]manifest.RunRow, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	key, err := models.ParseCharacterKey(character)
	if err != nil {
		return nil, err
	}
	e, err := app.open(nil)
	if err != nil {
		return nil, err
	}
	defer e.closer()
	return e.svc.Runs(ctx, key, limit)
}

// Refs scans the configured page roots for asset references.
func Refs(ctx context.Context, opts ...Option) (*RefsResult, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	cfg := app.config
	refs, err := refscan.Scan(ctx, refscan.Options{Roots: cfg.Refs.Roots})
	if err != nil {
		return nil, err
	}
	return &RefsResult{Refs: refs, Missing: refscan.Missing(refs, cfg.Target.Root)}, nil
}

// Watch syncs every character once, then again after each burst of intake
// changes, until ctx is cancelled or a shutdown signal arrives.
func Watch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	e, err := app.open(nil)
	if err != nil {
		return err
	}
	defer e.closer()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.watchIntake(gCtx) })
	g.Go(func() error {
		waitForShutdown(gCtx, e.logger)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		e.logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// watchIntake runs the initial sync and then the watch loop.
func (e *env) watchIntake(ctx context.Context) error {
	if _, err := e.svc.SyncAll(ctx, assetservice.SyncOptions{}); err != nil {
		e.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return watch.Watch(ctx, watch.Options{
		Dir:      e.cfg.Intake.Path,
		Exts:     e.cfg.Intake.Extensions,
		Debounce: e.cfg.Watch.Debounce,
		Logger:   e.logger,
	}, func(ctx context.Context, _ []string) error {
		_, err := e.svc.SyncAll(ctx, assetservice.SyncOptions{})
		return err
	})
}

// Run starts the HTTP server together with the intake watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	e, err := app.open(func(ev assetservice.Event) {
		broker.PublishAssetEvent(sse.AssetEvent{
			Kind:      ev.Kind,
			Character: ev.Character,
			Name:      ev.Name,
			From:      ev.From,
		})
	})
	if err != nil {
		return err
	}
	defer e.closer()
	logger := e.logger

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := e.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"manifest unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(e.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	r.Mount("/assets", api.NewAssetRouter(e.svc))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.watchIntake(gCtx) })

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		cancel()

		logger.Info("Shutting down server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP serves the MCP tools on stdin/stdout.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	e, err := app.open(nil)
	if err != nil {
		return err
	}
	defer e.closer()

	cfg := app.config
	srv := mcpserver.New(e.svc, refscan.Options{Roots: cfg.Refs.Roots}, cfg.Target.Root)
	e.logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// waitForShutdown blocks until SIGINT/SIGTERM or ctx is done.
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}
