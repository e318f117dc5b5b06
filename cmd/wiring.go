package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/featmatch/internal/config"
	"github.com/kozaktomas/featmatch/internal/descriptors"
	"github.com/kozaktomas/featmatch/internal/detector"
	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/index"
	"github.com/kozaktomas/featmatch/internal/logging"
	"github.com/kozaktomas/featmatch/internal/pipeline"
	"github.com/kozaktomas/featmatch/internal/results"
	"github.com/kozaktomas/featmatch/internal/storage/blob"
	"github.com/kozaktomas/featmatch/internal/storage/mysql"
	"github.com/kozaktomas/featmatch/internal/storage/postgres"
	"github.com/kozaktomas/featmatch/internal/storage/sqlite"
)

// app holds everything a command needs, built from the configuration.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	blobs       blob.Store                      // nil unless descriptors live in a blob store
	pgDescs     *postgres.DescriptorRepository // nil unless descriptors live in PostgreSQL
	descriptors *descriptors.Cache
	results     results.Store // nil when the result cache is disabled
	lister      results.Lister
	pipeline    *pipeline.Pipeline

	pg      *postgres.Pool
	closers []func() error
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires stores, detector and pipeline. With withResults false the
// match result cache is left out entirely.
func newApp(ctx context.Context, cfg *config.Config, withResults bool) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openDescriptorStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.descriptors = descriptors.NewCache(store, a.newDetector(), logger)

	if withResults {
		if err := a.openResultStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	builder, err := index.NewBuilder(cfg.Index.Kind, cfg.Index.MaxNeighbors, cfg.Index.Seed)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline.New(a.descriptors, a.results, builder, cfg.Matcher.EffectiveWorkers(), logger)
	return a, nil
}

// newDetector returns the configured exec detector, bounded to
// detector.max_concurrent runs. Without a command only persisted descriptor
// sets can be used.
func (a *app) newDetector() detector.Detector {
	det, err := detector.NewExec(a.cfg.Detector.Command, a.cfg.Detector.Timeout)
	if err != nil {
		return detector.Func(func(_ context.Context, image string) (*feature.DescriptorSet, error) {
			return nil, fmt.Errorf("%w: no detector command configured for %s (set DETECTOR_COMMAND)",
				feature.ErrDetectionFailure, image)
		})
	}
	return detector.Limit(det, a.cfg.Detector.MaxConcurrent)
}

func (a *app) postgresPool(ctx context.Context) (*postgres.Pool, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	pool, err := postgres.Open(ctx, &a.cfg.Database, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	a.pg = pool
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}

func (a *app) openDescriptorStore(ctx context.Context) (descriptors.Store, error) {
	cfg := a.cfg.Descriptors
	compression, err := descriptors.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "file":
		local := blob.NewLocalStore(cfg.Dir)
		a.blobs = local
		if cfg.Dir == "" {
			return descriptors.NewSidecarStore(local, compression), nil
		}
		return descriptors.NewBlobStore(local, descriptors.HashedNaming, compression), nil
	case "s3":
		client, err := blob.NewMinioClient(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.UseSSL)
		if err != nil {
			return nil, err
		}
		store := blob.NewMinioStore(client, cfg.S3.Bucket, cfg.S3.Prefix)
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		a.blobs = store
		return descriptors.NewBlobStore(store, descriptors.HashedNaming, compression), nil
	case "postgres":
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		a.pgDescs = postgres.NewDescriptorRepository(pool)
		return a.pgDescs, nil
	default:
		return nil, fmt.Errorf("%w: unknown descriptor backend %q", feature.ErrInvalidInput, cfg.Backend)
	}
}

// openResultStore connects the match result cache. A backend that cannot be
// reached leaves the cache disabled; matching still works without it.
func (a *app) openResultStore(ctx context.Context) error {
	store, err := a.connectResults(ctx)
	if err == nil && store != nil {
		err = store.Init(ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, feature.ErrInvalidInput):
		return err
	default:
		a.logger.WarnContext(ctx, "result cache unavailable, continuing without it",
			"backend", a.cfg.Results.Backend, "error", err)
		return nil
	}
	if store != nil {
		a.results = store
		a.lister = store
	}
	return nil
}

func (a *app) connectResults(ctx context.Context) (*results.SQLStore, error) {
	switch a.cfg.Results.Backend {
	case "none":
		return nil, nil
	case "sqlite":
		pool, err := sqlite.Open(a.cfg.Results.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return results.NewSQLStore(pool.DB(), results.SQLite), nil
	case "postgres":
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return results.NewSQLStore(pool.DB(), results.Postgres), nil
	case "mysql":
		pool, err := mysql.NewPool(a.cfg.Results.DSN, a.cfg.Database.MaxOpenConns, a.cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return results.NewSQLStore(pool.DB(), results.MySQL), nil
	default:
		return nil, fmt.Errorf("%w: unknown results backend %q", feature.ErrInvalidInput, a.cfg.Results.Backend)
	}
}

// Close releases every opened pool in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
