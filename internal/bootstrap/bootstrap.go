// Package bootstrap provides dependency initialization for the media editor.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/config"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/media"
	"github.com/vbeats/vbeats-api/internal/session"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// redisPrefix namespaces job keys in a shared Redis.
const redisPrefix = "vbeats"

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Storage  storage.Storage
	Jobs     *job.Service
	Sessions *session.Manager

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	defaults, err := config.LoadEditorDefaults(cfg.EditorDefaultsFile)
	if err != nil {
		return nil, err
	}

	store, err := InitStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Storage: store}

	repo, err := initJobRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := repo.(interface{ Close() error }); ok {
		deps.closers = append(deps.closers, c.Close)
	}
	deps.Jobs = job.NewService(repo, logger)

	deps.Sessions = session.NewManager(session.Config{
		Factory: SessionFactory(cfg, defaults, store, deps.Jobs, logger),
		Jobs:    deps.Jobs,
		Storage: store,
		TTL:     cfg.SessionTTL,
		Logger:  logger,
	})

	return deps, nil
}

// Close ends every session and releases external connections.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Sessions != nil {
		if err := d.Sessions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EditorSettings combines the viewport configuration with the editor
// defaults file.
func EditorSettings(cfg *config.Config, d *config.EditorDefaults) compositor.Settings {
	return compositor.Settings{
		CanvasWidth:        d.Canvas.Width,
		CanvasHeight:       d.Canvas.Height,
		MaxWidth:           cfg.ViewportMaxWidth,
		Margin:             cfg.ViewportMargin,
		DefaultWindowWidth: cfg.DefaultWindowWidth,
		TextSize:           d.Text.Size,
		TextColor:          d.Text.Color,
		TextX:              d.Text.X,
		TextY:              d.Text.Y,
		Filters: compositor.Filters{
			Brightness: d.Filters.Brightness,
			Contrast:   d.Filters.Contrast,
			Grayscale:  d.Filters.Grayscale,
			Invert:     d.Filters.Invert,
		},
	}
}

// NewTrimController builds a trim controller backed by a local FFmpeg engine.
func NewTrimController(cfg *config.Config, sessionID string, store storage.Storage, jobs *job.Service, logger *slog.Logger) *trim.Controller {
	engine := media.NewFFmpegEngine(cfg.FFmpegPath, cfg.FFprobePath, cfg.TempDir, logger)
	return trim.NewController(sessionID, trim.Deps{
		Engine:  engine,
		Prober:  engine,
		Storage: store,
		Jobs:    jobs,
	}, trim.WithLogger(logger))
}

// SessionFactory returns a session.Factory giving each session its own
// editor and engine.
func SessionFactory(cfg *config.Config, defaults *config.EditorDefaults, store storage.Storage, jobs *job.Service, logger *slog.Logger) session.Factory {
	settings := EditorSettings(cfg, defaults)
	return func(sessionID string) (*compositor.Editor, *trim.Controller, error) {
		editor, err := compositor.NewEditor(settings, logger.With(slog.String("session_id", sessionID)))
		if err != nil {
			return nil, nil, fmt.Errorf("create editor: %w", err)
		}
		return editor, NewTrimController(cfg, sessionID, store, jobs, logger), nil
	}
}

// InitStorage creates the appropriate storage backend based on configuration.
func InitStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PresignTTL:      cfg.S3PresignTTL,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

func initJobRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, error) {
	if !cfg.RedisEnabled() {
		logger.Info("in-memory job store configured")
		return job.NewMemoryRepository(), nil
	}
	repo, err := job.NewRedisRepository(ctx, cfg.RedisURL, redisPrefix, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create redis job store: %w", err)
	}
	logger.Info("redis job store configured", slog.Duration("ttl", cfg.SessionTTL))
	return repo, nil
}
