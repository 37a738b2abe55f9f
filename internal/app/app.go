// Package app wires configuration, storage, the run ledger, telemetry and
// the summary sinks around one timed run.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensorsplit/sensorsplit/internal/aggregate"
	"github.com/sensorsplit/sensorsplit/internal/classify"
	"github.com/sensorsplit/sensorsplit/internal/config"
	"github.com/sensorsplit/sensorsplit/internal/driver"
	"github.com/sensorsplit/sensorsplit/internal/generator"
	"github.com/sensorsplit/sensorsplit/internal/ledger"
	"github.com/sensorsplit/sensorsplit/internal/lifecycle"
	"github.com/sensorsplit/sensorsplit/internal/measure"
	"github.com/sensorsplit/sensorsplit/internal/pipeline"
	"github.com/sensorsplit/sensorsplit/internal/protect"
	"github.com/sensorsplit/sensorsplit/internal/sink"
	"github.com/sensorsplit/sensorsplit/internal/storage"
	"github.com/sensorsplit/sensorsplit/internal/telemetry"
	"github.com/sensorsplit/sensorsplit/internal/transport"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// Options are process-level settings that do not belong in Config.
type Options struct {
	Version string

	// Progress receives the run progress bar when Config.Run.Progress is set
	Progress io.Writer

	// Generator replaces the synthetic IoT generator
	Generator generator.Generator

	Logger *slog.Logger
}

// RunReport is what one run produced.
type RunReport struct {
	RunID       string
	Summary     types.RunSummary
	Result      driver.Result
	Uploads     transport.Stats
	MetricsPath string
}

// App manages the lifecycle of one run.
type App struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	runID  string

	// Shared resources
	storage  storage.ObjectStorage
	ledger   *ledger.SQLiteLedger
	redis    *sink.RedisSink
	shutdown *lifecycle.ShutdownManager

	// Run components
	aggregator *aggregate.RunAggregator
	uploader   *transport.Uploader
	driver     *driver.Driver

	mu      sync.Mutex
	running bool
}

// New resolves and validates the configuration and creates the directories
// it names.
func New(cfg *config.Config, opts Options) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		runID:  uuid.NewString(),
	}, nil
}

// RunID returns the identifier of this app's run.
func (a *App) RunID() string {
	return a.runID
}

// Start initializes shared resources and builds the run components.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	a.shutdown = lifecycle.NewShutdownManager(lifecycle.ShutdownConfig{Logger: a.logger})

	if err := a.initSharedResources(ctx); err != nil {
		a.Stop(context.Background())
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	if err := a.initRun(); err != nil {
		a.Stop(context.Background())
		return fmt.Errorf("failed to initialize run: %w", err)
	}

	a.logger.Info("sensorsplit started",
		"run_id", a.runID,
		"tenants", a.cfg.Run.Tenants,
		"duration", a.cfg.Run.Duration,
		"storage", a.cfg.Storage.Type,
	)
	return nil
}

// initSharedResources initializes telemetry, storage, the ledger and Redis.
// Each resource registers its closer so Stop releases them in reverse order.
func (a *App) initSharedResources(ctx context.Context) error {
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        a.cfg.Telemetry.Enabled,
		Endpoint:       a.cfg.Telemetry.Endpoint,
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: a.opts.Version,
		Insecure:       a.cfg.Telemetry.Insecure,
		SamplingRatio:  a.cfg.Telemetry.SamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.shutdown.RegisterCloser("telemetry", lifecycle.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	}))

	a.storage, err = OpenStorage(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.storage != nil {
		a.logger.Info("storage initialized", "type", a.cfg.Storage.Type, "prefix", a.cfg.Storage.Prefix)
	}

	if a.cfg.Ledger.Enabled {
		a.ledger, err = ledger.Open(a.cfg.Ledger.Path)
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser("ledger", a.ledger)
		a.logger.Info("ledger initialized", "path", a.cfg.Ledger.Path)
	}

	if a.cfg.Redis.Enabled {
		rcfg := sink.DefaultRedisConfig(a.cfg.Redis.Addr)
		rcfg.Key = a.cfg.Redis.Key
		rcfg.Channel = a.cfg.Redis.Channel
		rcfg.TTL = a.cfg.Redis.TTL
		a.redis, err = sink.NewRedisSink(ctx, rcfg)
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser("redis", a.redis)
		a.logger.Info("redis sink initialized", "addr", a.cfg.Redis.Addr, "key", a.cfg.Redis.Key)
	}
	return nil
}

// OpenStorage builds the configured object storage, wrapped with the key
// prefix. Storage type "none" yields a nil storage.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	var (
		st  storage.ObjectStorage
		err error
	)
	switch cfg.Storage.Type {
	case "none", "":
		return nil, nil
	case "local":
		st, err = storage.NewLocalStorage(cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.PathStyle
		st, err = storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}
	return storage.WithPrefix(st, cfg.Storage.Prefix), nil
}

// initRun builds the generator, pipelines and driver from configuration.
func (a *App) initRun() error {
	strategy, err := measure.ParseStrategy(a.cfg.Measurement.Strategy)
	if err != nil {
		return err
	}
	sampler, err := measure.NewSampler(strategy)
	if err != nil {
		return err
	}
	policy, err := classify.ParsePolicy(a.cfg.Classification.Unclassified)
	if err != nil {
		return err
	}

	sealer := protect.NewSealer(protect.Options{
		Secret: a.cfg.Protection.Secret,
		Cost:   a.cfg.Protection.Cost,
	})
	if err := sealer.Validate(); err != nil {
		return err
	}

	// One probe for both pipelines so samples never overlap.
	probe := measure.NewProbe(sampler)
	raw := pipeline.NewRaw(probe, pipeline.RawOptions{
		BaselineOffset: a.cfg.Measurement.RawBaselineOffset,
		Logger:         a.logger,
	})
	framework := pipeline.NewFramework(classify.New(policy), sealer, probe, pipeline.FrameworkOptions{
		BaselineOffset: a.cfg.Measurement.FrameworkBaselineOffset,
		UtilityField:   a.cfg.Classification.UtilityField,
		Logger:         a.logger,
	})

	gen := a.opts.Generator
	if gen == nil {
		gen = generator.NewIoT(a.cfg.Run.Seed)
	}

	a.aggregator = aggregate.New()
	a.uploader = transport.New(a.storage, a.runID, a.logger)

	deps := driver.Deps{
		Generator:  gen,
		Raw:        raw,
		Framework:  framework,
		Aggregator: a.aggregator,
		RunID:      a.runID,
	}
	if a.ledger != nil {
		deps.Recorder = a.ledger
	}
	if a.uploader.Enabled() {
		deps.Uploader = a.uploader
	}

	var progress io.Writer
	if a.cfg.Run.Progress {
		progress = a.opts.Progress
	}

	a.driver, err = driver.New(deps, driver.Options{
		Duration:            a.cfg.Run.Duration,
		Tenants:             a.cfg.TenantIDs(),
		RecordsPerIteration: a.cfg.Run.RecordsPerIteration,
		Pace:                a.cfg.Run.Pace,
		ParallelTenants:     a.cfg.Run.ParallelTenants,
		WorkDir:             a.cfg.Run.WorkDir,
		Progress:            progress,
		Logger:              a.logger,
	})
	return err
}

// Run executes the timed loop, then reduces, records and publishes the
// summary. SIGINT or SIGTERM ends the loop early; the partial summary is
// still published.
func (a *App) Run(ctx context.Context) (*RunReport, error) {
	a.mu.Lock()
	started := a.driver != nil
	a.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("app is not started")
	}
	if !a.shutdown.Track() {
		return nil, fmt.Errorf("app is shutting down")
	}
	defer a.shutdown.Untrack()

	startedAt := time.Now()
	if a.ledger != nil {
		if err := a.ledger.BeginRun(ctx, ledger.Run{
			ID:        a.runID,
			StartedAt: startedAt,
			Tenants:   a.cfg.TenantIDs(),
			Config:    a.redactedConfig(),
		}); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := a.shutdown.NotifyContext(ctx)
	defer cancel()

	result, runErr := a.driver.Run(runCtx)
	finishedAt := time.Now()
	summary := a.aggregator.Summarize(finishedAt)

	// Recording and publishing use the caller's context so an interrupt
	// still leaves a summary behind.
	if a.ledger != nil {
		if err := a.ledger.FinishRun(ctx, a.runID, finishedAt, summary, runErr); err != nil {
			a.logger.Error("failed to finish run in ledger", "run_id", a.runID, "error", err)
		}
	}

	fileSink := sink.NewFileSink(a.cfg.MetricsPath())
	sinks := []sink.Sink{fileSink}
	if a.storage != nil {
		sinks = append(sinks, sink.NewStorageSink(a.storage, storage.Metadata{transport.MetaRunID: a.runID}))
	}
	if a.redis != nil {
		sinks = append(sinks, a.redis)
	}
	sinkErr := sink.Fanout(ctx, a.logger, summary, sinks...)

	report := &RunReport{
		RunID:       a.runID,
		Summary:     summary,
		Result:      result,
		Uploads:     a.uploader.Stats(),
		MetricsPath: fileSink.Path(),
	}
	if runErr != nil {
		return report, runErr
	}
	if sinkErr != nil {
		return report, fmt.Errorf("failed to publish summary: %w", sinkErr)
	}
	return report, nil
}

// redactedConfig renders the configuration for the ledger without the
// shared secret.
func (a *App) redactedConfig() json.RawMessage {
	cp := *a.cfg
	if cp.Protection.Secret != "" {
		cp.Protection.Secret = "redacted"
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil
	}
	return data
}

// Stop releases every resource registered during Start.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	if a.shutdown == nil {
		return nil
	}
	return a.shutdown.Shutdown(ctx, "run complete")
}
