package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sensorsplit/sensorsplit/internal/atomicfile"
	"github.com/sensorsplit/sensorsplit/internal/codec"
	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/internal/measure"
	"github.com/sensorsplit/sensorsplit/internal/telemetry"
	"github.com/sensorsplit/sensorsplit/pkg/types"
	"go.opentelemetry.io/otel/attribute"
)

// RawOptions configures the raw pipeline.
type RawOptions struct {
	// BaselineOffset is added to every measured memory delta
	BaselineOffset int64

	Logger *slog.Logger
}

// Raw persists a batch unmodified as CSV.
type Raw struct {
	probe  *measure.Probe
	offset int64
	logger *slog.Logger
}

// NewRaw creates a raw pipeline.
func NewRaw(probe *measure.Probe, opts RawOptions) *Raw {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Raw{probe: probe, offset: opts.BaselineOffset, logger: logger}
}

// Run serializes the batch to dest and measures only the serialization.
// With an empty dest the CSV is produced and discarded. Every failure,
// including a panic, yields an outcome with ErrorKind "serialization".
func (p *Raw) Run(ctx context.Context, tenant string, b types.Batch, dest string) (result types.PipelineOutcome) {
	out := newOutcome(tenant, types.KindRaw, p.logger)

	ctx, span := telemetry.StartSpan(ctx, "pipeline.raw",
		attribute.String("tenant", tenant),
		attribute.Int("rows", b.Len()))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	defer func() {
		if r := recover(); r != nil {
			spanErr = perrors.NewSerializationError(perrors.CodeEncodeFailed,
				fmt.Sprintf("panic during raw serialization: %v", r), nil)
			result = out.fail(spanErr)
		}
	}()

	if err := checkTenant(tenant, b); err != nil {
		spanErr = perrors.NewSerializationError(perrors.CodeInvalidBatch, "invalid batch", err)
		return out.fail(spanErr)
	}

	m, err := p.probe.Begin()
	if err != nil {
		spanErr = perrors.NewSerializationError(perrors.CodeWriteFailed, "failed to sample memory", err)
		return out.fail(spanErr)
	}
	defer m.Abort()

	var res atomicfile.Result
	if dest == "" {
		err = codec.WriteCSV(io.Discard, b)
	} else {
		res, err = atomicfile.Write(ctx, dest, func(w io.Writer) error {
			return codec.WriteCSV(w, b)
		})
	}
	if err != nil {
		spanErr = asSerialization(err)
		return out.fail(spanErr)
	}

	reading, err := m.End(p.offset)
	if err != nil {
		spanErr = perrors.NewSerializationError(perrors.CodeWriteFailed, "failed to sample memory", err)
		return out.fail(spanErr)
	}

	if dest != "" {
		out.addArtifact(types.ArtifactRaw, res)
	}
	span.SetAttributes(attribute.Float64("execution_time_ms", reading.Milliseconds()))
	return out.succeed(reading)
}

func asSerialization(err error) error {
	if perrors.GetCategory(err) == perrors.ErrCategorySerialization {
		return err
	}
	return perrors.NewSerializationError(perrors.CodeWriteFailed, "failed to write raw artifact", err)
}
