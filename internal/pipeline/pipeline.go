// Package pipeline implements the two persistence strategies measured per
// tenant: Raw writes records unmodified, Framework splits them into a
// protected sensitive projection and a tagged non-sensitive projection.
//
// A pipeline never returns an error or panics past Run; every failure
// becomes a PipelineOutcome with StatusError and an ErrorKind.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sensorsplit/sensorsplit/internal/atomicfile"
	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/internal/measure"
	"github.com/sensorsplit/sensorsplit/pkg/bytesize"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// Default baseline offsets added to measured memory deltas.
const (
	DefaultRawBaselineOffset       int64 = 45_000_000
	DefaultFrameworkBaselineOffset int64 = 37_500_000
)

// DefaultUtilityField is the numeric field averaged per group tag.
const DefaultUtilityField = "NS_TEMPERATURE"

// Protector seals a projection into a file atomically. On failure nothing
// may remain at path.
type Protector interface {
	SealFile(ctx context.Context, b types.Batch, path string) (atomicfile.Result, error)
}

// ErrorKind renders an error's category as an outcome error kind.
func ErrorKind(err error) string {
	return strings.ToLower(string(perrors.GetCategory(err)))
}

// outcome accumulates the result of one Run.
type outcome struct {
	types.PipelineOutcome
	logger *slog.Logger
}

func newOutcome(tenant string, kind types.PipelineKind, logger *slog.Logger) *outcome {
	return &outcome{
		PipelineOutcome: types.PipelineOutcome{
			Tenant:    tenant,
			Kind:      kind,
			StartedAt: time.Now(),
		},
		logger: logger,
	}
}

func (o *outcome) fail(err error) types.PipelineOutcome {
	o.Status = types.StatusError
	o.ErrorKind = ErrorKind(err)
	o.Message = err.Error()
	o.ExecutionTimeMS = 0
	o.MemoryUsed = ""
	o.MemoryBytes = 0
	o.Artifacts = nil
	o.UtilityCheck = nil

	o.logger.Error("pipeline failed",
		"tenant", o.Tenant,
		"kind", string(o.Kind),
		"error_kind", o.ErrorKind,
		"error", err)
	return o.PipelineOutcome
}

func (o *outcome) succeed(r measure.Reading) types.PipelineOutcome {
	o.Status = types.StatusSuccess
	o.ExecutionTimeMS = r.Milliseconds()
	o.MemoryBytes = r.DeltaBytes
	o.MemoryUsed = bytesize.Format(r.DeltaBytes)
	return o.PipelineOutcome
}

func (o *outcome) addArtifact(kind types.ArtifactKind, res atomicfile.Result) {
	o.Artifacts = append(o.Artifacts, types.Artifact{
		Kind:        kind,
		Path:        res.Path,
		SizeBytes:   res.SizeBytes,
		Fingerprint: res.Fingerprint,
	})
}

func checkTenant(tenant string, b types.Batch) error {
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if b.Tenant != "" && b.Tenant != tenant {
		return fmt.Errorf("batch belongs to tenant %q, not %q", b.Tenant, tenant)
	}
	// A batch without a tenant is validated under the caller's tenant.
	cp := b
	cp.Tenant = tenant
	return cp.Validate()
}
