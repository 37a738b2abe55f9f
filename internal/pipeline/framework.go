package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sensorsplit/sensorsplit/internal/atomicfile"
	"github.com/sensorsplit/sensorsplit/internal/classify"
	"github.com/sensorsplit/sensorsplit/internal/codec"
	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/internal/measure"
	"github.com/sensorsplit/sensorsplit/internal/telemetry"
	"github.com/sensorsplit/sensorsplit/pkg/types"
	"go.opentelemetry.io/otel/attribute"
)

// FrameworkOptions configures the framework pipeline.
type FrameworkOptions struct {
	// BaselineOffset is added to every measured memory delta
	BaselineOffset int64

	// UtilityField is averaged per group tag after protection
	UtilityField string

	Logger *slog.Logger
}

// Destinations are the framework's output paths. An empty path skips the
// corresponding write.
type Destinations struct {
	Sensitive    string
	NonSensitive string
}

// Framework splits a batch, writes the non-sensitive projection in the
// clear and protects the sensitive projection.
type Framework struct {
	classifier   *classify.Classifier
	protector    Protector
	probe        *measure.Probe
	offset       int64
	utilityField string
	logger       *slog.Logger
}

// NewFramework creates a framework pipeline.
func NewFramework(classifier *classify.Classifier, protector Protector, probe *measure.Probe, opts FrameworkOptions) *Framework {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	field := opts.UtilityField
	if field == "" {
		field = DefaultUtilityField
	}
	return &Framework{
		classifier:   classifier,
		protector:    protector,
		probe:        probe,
		offset:       opts.BaselineOffset,
		utilityField: field,
		logger:       logger,
	}
}

// Run executes split, tag, clear write, measurement, protection and the
// utility check, in that order. Time and memory cover the steps up to and
// including the non-sensitive write; protection is not measured.
func (p *Framework) Run(ctx context.Context, tenant string, b types.Batch, dest Destinations) (result types.PipelineOutcome) {
	out := newOutcome(tenant, types.KindFramework, p.logger)

	ctx, span := telemetry.StartSpan(ctx, "pipeline.framework",
		attribute.String("tenant", tenant),
		attribute.Int("rows", b.Len()))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	defer func() {
		if r := recover(); r != nil {
			spanErr = perrors.NewInternalError(fmt.Sprintf("panic in framework pipeline: %v", r), nil)
			result = out.fail(spanErr)
		}
	}()

	if err := checkTenant(tenant, b); err != nil {
		spanErr = perrors.NewClassificationError(perrors.CodeInvalidBatch, err.Error())
		return out.fail(spanErr)
	}

	m, err := p.probe.Begin()
	if err != nil {
		spanErr = perrors.NewInternalError("failed to sample memory", err)
		return out.fail(spanErr)
	}
	defer m.Abort()

	split, err := Split(p.classifier, tenant, b)
	if err != nil {
		spanErr = err
		return out.fail(spanErr)
	}
	if len(split.Classification.Unclassified) > 0 {
		p.logger.Debug("dropping unclassified fields",
			"tenant", tenant,
			"fields", split.Classification.Unclassified)
	}

	if dest.NonSensitive != "" && !split.NonSensitive.Empty() {
		res, err := atomicfile.Write(ctx, dest.NonSensitive, func(w io.Writer) error {
			return codec.WriteCSV(w, split.NonSensitive)
		})
		if err != nil {
			spanErr = perrors.NewSerializationError(perrors.CodeWriteFailed, "failed to write non-sensitive projection", err)
			return out.fail(spanErr)
		}
		out.addArtifact(types.ArtifactNonSensitive, res)
	}

	reading, err := m.End(p.offset)
	if err != nil {
		spanErr = perrors.NewInternalError("failed to sample memory", err)
		return out.fail(spanErr)
	}

	if dest.Sensitive != "" && !split.Sensitive.Empty() {
		_, sealSpan := telemetry.StartSpan(ctx, "pipeline.protect", attribute.String("tenant", tenant))
		var res atomicfile.Result
		err := p.probe.Unmeasured(func() (err error) {
			res, err = p.protector.SealFile(ctx, split.Sensitive, dest.Sensitive)
			return err
		})
		telemetry.EndSpan(sealSpan, err)
		if err != nil {
			spanErr = asProtection(err)
			return out.fail(spanErr)
		}
		out.addArtifact(types.ArtifactSensitive, res)
	}

	utility, err := UtilityCheck(split.NonSensitive, p.utilityField)
	if err != nil {
		spanErr = err
		return out.fail(spanErr)
	}
	out.UtilityCheck = utility

	span.SetAttributes(attribute.Float64("execution_time_ms", reading.Milliseconds()))
	return out.succeed(reading)
}

func asProtection(err error) error {
	switch perrors.GetCategory(err) {
	case perrors.ErrCategoryProtection, perrors.ErrCategorySerialization:
		return err
	}
	return perrors.NewProtectionError(perrors.CodeSealFailed, "failed to protect sensitive projection", err)
}
