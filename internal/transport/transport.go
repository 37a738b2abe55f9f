// Package transport uploads pipeline artifacts to object storage.
package transport

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sensorsplit/sensorsplit/internal/storage"
	"github.com/sensorsplit/sensorsplit/internal/telemetry"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// Metadata keys attached to every uploaded artifact.
const (
	MetaRunID       = "run-id"
	MetaTenant      = "tenant-id"
	MetaKind        = "pipeline-kind"
	MetaIteration   = "iteration"
	MetaFingerprint = "fingerprint"
)

// Stats counts upload attempts.
type Stats struct {
	Uploaded int
	Failed   int
	Bytes    int64
}

// Uploader ships artifacts of successful outcomes under their stable object
// keys. Upload failures are logged and counted, never returned to the
// run loop. A nil storage turns the uploader into a no-op.
type Uploader struct {
	storage storage.ObjectStorage
	runID   string
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an uploader for one run.
func New(st storage.ObjectStorage, runID string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{storage: st, runID: runID, logger: logger}
}

// Enabled reports whether uploads go anywhere.
func (u *Uploader) Enabled() bool {
	return u.storage != nil
}

// UploadOutcome uploads every artifact of a successful outcome and returns
// the number uploaded. Failed outcomes are skipped.
func (u *Uploader) UploadOutcome(ctx context.Context, o types.PipelineOutcome) int {
	if !u.Enabled() || !o.OK() {
		return 0
	}

	uploaded := 0
	for _, a := range o.Artifacts {
		meta := storage.Metadata{
			MetaRunID:       u.runID,
			MetaTenant:      o.Tenant,
			MetaKind:        string(o.Kind),
			MetaIteration:   strconv.Itoa(o.Iteration),
			MetaFingerprint: a.Fingerprint,
		}
		if u.upload(ctx, a.Path, a.ObjectKey(), a.SizeBytes, meta) {
			uploaded++
		}
	}
	return uploaded
}

// UploadFile uploads one local file under key. It reports success.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key string, size int64) bool {
	if !u.Enabled() {
		return false
	}
	return u.upload(ctx, localPath, key, size, storage.Metadata{MetaRunID: u.runID})
}

func (u *Uploader) upload(ctx context.Context, localPath, key string, size int64, meta storage.Metadata) bool {
	ctx, span := telemetry.StartSpan(ctx, "transport.upload",
		attribute.String("object.key", key),
		attribute.Int64("object.size", size),
	)
	err := u.storage.Upload(ctx, localPath, key, meta)
	telemetry.EndSpan(span, err)

	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.stats.Failed++
		u.logger.Warn("artifact upload failed",
			"key", key,
			"path", localPath,
			"tenant", meta[MetaTenant],
			"error", err,
		)
		return false
	}
	u.stats.Uploaded++
	u.stats.Bytes += size
	u.logger.Debug("artifact uploaded", "key", key, "size_bytes", size)
	return true
}

// Stats returns a snapshot of the upload counters.
func (u *Uploader) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}
