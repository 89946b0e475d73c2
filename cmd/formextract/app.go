package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/backends"
	"github.com/fyrsmithlabs/formextract/internal/config"
	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
	"github.com/fyrsmithlabs/formextract/internal/patterncache"
	"github.com/fyrsmithlabs/formextract/internal/pipeline"
	"github.com/fyrsmithlabs/formextract/internal/telemetry"
	"github.com/fyrsmithlabs/formextract/internal/validate"
)

const instrumentationName = "github.com/fyrsmithlabs/formextract"

// app holds the wired services shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	cache     *patterncache.Cache
	chain     *extraction.Chain
	pipeline  *pipeline.Pipeline
}

// loadConfig reads configuration from --config and the environment.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes dependencies in order:
//  1. Telemetry and logger
//  2. Pattern cache, rehydrated from disk
//  3. Extraction backends and chain
//  4. Pipeline with the contact form validators
//
// withBackends is false for commands that only touch the cache.
func newApp(ctx context.Context, cfg *config.Config, withBackends bool) (*app, error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	var store patterncache.Store
	if cfg.Cache.Path != "" {
		fs, err := patterncache.NewFileStore(cfg.Cache.Path)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to open pattern cache: %w", err)
		}
		store = fs
	}
	a.cache, err = patterncache.New(cfg.Cache, store,
		patterncache.WithLogger(logger.Named("patterncache")),
		patterncache.WithMetrics(patterncache.NewMetrics()),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	a.cache.Load(ctx)

	if !withBackends {
		return a, nil
	}

	extractors, err := backends.Build(ctx, cfg.Backends.Settings(), logger.Named("backends"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to build backends: %w", err)
	}
	a.chain, err = extraction.NewChain(extractors,
		extraction.WithBackendTimeout(cfg.Backends.Timeout.Duration()),
		extraction.WithLogger(logger.Named("extraction")),
		extraction.WithTracer(tel.Tracer(instrumentationName)),
		extraction.WithMeter(tel.Meter(instrumentationName)),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create extraction chain: %w", err)
	}

	a.pipeline, err = pipeline.New(cfg.Pipeline, a.chain, a.cache,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithValidator(validate.NewContactSet(logger.Named("validate"))),
		pipeline.WithTracer(tel.Tracer(instrumentationName)),
		pipeline.WithMeter(tel.Meter(instrumentationName)),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return a, nil
}

// Close flushes the cache and telemetry. Errors are logged.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close(ctx))
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}
