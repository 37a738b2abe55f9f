// Package driver runs the timed comparison loop: generate one batch per
// tenant, feed it to both pipelines and aggregate the outcomes.
package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/internal/generator"
	"github.com/sensorsplit/sensorsplit/internal/pipeline"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// Artifact file names inside the work directory.
const (
	RawFileFormat          = "raw_data_tenant_%s.csv"
	SensitiveFileFormat    = "sensitive_data_tenant_%s.crypt"
	NonSensitiveFileFormat = "non_sensitive_data_tenant_%s.csv"
)

// Options controls the loop.
type Options struct {
	// Duration bounds the loop. It is checked before each iteration; an
	// iteration in progress completes.
	Duration time.Duration

	Tenants             []string
	RecordsPerIteration int

	// Pace is slept after each tenant
	Pace time.Duration

	// ParallelTenants runs the tenants of one iteration concurrently
	ParallelTenants bool

	// MaxIterations stops the loop early when positive
	MaxIterations int

	// WorkDir receives the per-tenant artifacts
	WorkDir string

	// Progress receives a progress bar when non-nil
	Progress io.Writer

	Logger *slog.Logger
}

// Aggregator collects outcomes.
type Aggregator interface {
	Add(kind types.PipelineKind, o types.PipelineOutcome) error
}

// Recorder persists outcomes, typically the run ledger.
type Recorder interface {
	RecordOutcome(ctx context.Context, runID string, o types.PipelineOutcome) error
}

// Uploader ships the artifacts of an outcome.
type Uploader interface {
	UploadOutcome(ctx context.Context, o types.PipelineOutcome) int
}

// Deps are the collaborators of a Driver. Recorder and Uploader are
// optional.
type Deps struct {
	Generator  generator.Generator
	Raw        *pipeline.Raw
	Framework  *pipeline.Framework
	Aggregator Aggregator
	Recorder   Recorder
	Uploader   Uploader
	RunID      string
}

// Result reports what a run did.
type Result struct {
	Iterations         int
	FailedIterations   int
	GenerationFailures int
	Outcomes           int
	Failures           int
	Uploads            int
	Elapsed            time.Duration
}

// Driver executes one run.
type Driver struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	result Result
}

// New validates the collaborators and creates a driver.
func New(deps Deps, opts Options) (*Driver, error) {
	switch {
	case deps.Generator == nil:
		return nil, fmt.Errorf("driver: generator is required")
	case deps.Raw == nil || deps.Framework == nil:
		return nil, fmt.Errorf("driver: both pipelines are required")
	case deps.Aggregator == nil:
		return nil, fmt.Errorf("driver: aggregator is required")
	case len(opts.Tenants) == 0:
		return nil, fmt.Errorf("driver: at least one tenant is required")
	case opts.Duration <= 0:
		return nil, fmt.Errorf("driver: duration must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{deps: deps, opts: opts, logger: logger, now: time.Now}, nil
}

// Paths returns the three artifact paths of a tenant.
func (d *Driver) Paths(tenant string) (raw string, dest pipeline.Destinations) {
	raw = filepath.Join(d.opts.WorkDir, fmt.Sprintf(RawFileFormat, tenant))
	dest = pipeline.Destinations{
		Sensitive:    filepath.Join(d.opts.WorkDir, fmt.Sprintf(SensitiveFileFormat, tenant)),
		NonSensitive: filepath.Join(d.opts.WorkDir, fmt.Sprintf(NonSensitiveFileFormat, tenant)),
	}
	return raw, dest
}

// Run executes iterations until the duration elapses, MaxIterations is
// reached or ctx is cancelled. At least one iteration runs. It returns an
// error only when no iteration could generate its batches.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	start := d.now()
	deadline := start.Add(d.opts.Duration)

	bar := d.newProgressBar()
	defer func() {
		if bar != nil {
			bar.Finish()
		}
	}()

	var lastGenErr error
	for iter := 0; ; iter++ {
		if iter > 0 {
			if !d.now().Before(deadline) || ctx.Err() != nil {
				break
			}
			if d.opts.MaxIterations > 0 && iter >= d.opts.MaxIterations {
				break
			}
		}

		if err := d.iteration(ctx, iter); err != nil {
			lastGenErr = err
			d.mu.Lock()
			d.result.FailedIterations++
			d.mu.Unlock()
			d.logger.Error("iteration aborted", "iteration", iter, "error", err)
		}

		d.mu.Lock()
		d.result.Iterations++
		d.mu.Unlock()

		if bar != nil {
			elapsed := d.now().Sub(start)
			bar.Describe(fmt.Sprintf("iteration %d", iter+1))
			bar.Set64(min(elapsed.Milliseconds(), d.opts.Duration.Milliseconds()))
		}
	}

	d.mu.Lock()
	d.result.Elapsed = d.now().Sub(start)
	res := d.result
	d.mu.Unlock()

	d.logger.Info("run finished",
		"iterations", res.Iterations,
		"outcomes", res.Outcomes,
		"failures", res.Failures,
		"generation_failures", res.GenerationFailures,
		"elapsed", res.Elapsed,
	)

	if res.Iterations > 0 && res.FailedIterations == res.Iterations {
		return res, fmt.Errorf("driver: every iteration failed: %w", lastGenErr)
	}
	return res, nil
}

// iteration processes every tenant once. It returns the first generation
// error; pipeline failures are outcomes, not errors.
func (d *Driver) iteration(ctx context.Context, iter int) error {
	if !d.opts.ParallelTenants {
		for _, tenant := range d.opts.Tenants {
			if err := d.tenant(ctx, iter, tenant); err != nil {
				return err
			}
			if d.pace(ctx) != nil {
				return nil
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, tenant := range d.opts.Tenants {
		g.Go(func() error {
			return d.tenant(ctx, iter, tenant)
		})
	}
	err := g.Wait()
	d.pace(ctx)
	return err
}

func (d *Driver) tenant(ctx context.Context, iter int, tenant string) error {
	batch, err := d.deps.Generator.Generate(ctx, tenant, d.opts.RecordsPerIteration)
	if err != nil {
		d.mu.Lock()
		d.result.GenerationFailures++
		d.mu.Unlock()
		if perrors.GetCategory(err) != perrors.ErrCategoryGeneration {
			err = perrors.NewGenerationError("generation failed", err)
		}
		d.logger.Warn("generation failed", "tenant", tenant, "iteration", iter, "error", err)
		return err
	}

	rawPath, dest := d.Paths(tenant)

	rawOut := d.deps.Raw.Run(ctx, tenant, batch, rawPath)
	d.record(ctx, iter, rawOut)

	fwOut := d.deps.Framework.Run(ctx, tenant, batch, dest)
	d.record(ctx, iter, fwOut)
	return nil
}

// record hands an outcome to every collaborator. The ledger and uploader
// get a context that outlives an interrupt so that every aggregated
// outcome is also recorded.
func (d *Driver) record(ctx context.Context, iter int, o types.PipelineOutcome) {
	o.Iteration = iter
	ctx = context.WithoutCancel(ctx)

	if err := d.deps.Aggregator.Add(o.Kind, o); err != nil {
		d.logger.Error("failed to aggregate outcome", "tenant", o.Tenant, "kind", o.Kind, "error", err)
	}
	if d.deps.Recorder != nil {
		if err := d.deps.Recorder.RecordOutcome(ctx, d.deps.RunID, o); err != nil {
			d.logger.Warn("failed to record outcome", "tenant", o.Tenant, "kind", o.Kind, "error", err)
		}
	}
	uploads := 0
	if d.deps.Uploader != nil {
		uploads = d.deps.Uploader.UploadOutcome(ctx, o)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.result.Outcomes++
	if !o.OK() {
		d.result.Failures++
	}
	d.result.Uploads += uploads
}

func (d *Driver) pace(ctx context.Context) error {
	if d.opts.Pace <= 0 {
		return nil
	}
	t := time.NewTimer(d.opts.Pace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) newProgressBar() *progressbar.ProgressBar {
	if d.opts.Progress == nil {
		return nil
	}
	return progressbar.NewOptions64(d.opts.Duration.Milliseconds(),
		progressbar.OptionSetWriter(d.opts.Progress),
		progressbar.OptionSetDescription("iteration 0"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
