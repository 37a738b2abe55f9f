// Package sink delivers the final run summary to its destinations.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sensorsplit/sensorsplit/internal/atomicfile"
	"github.com/sensorsplit/sensorsplit/internal/storage"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// MetricsObjectKey is the object-storage key of the uploaded summary.
const MetricsObjectKey = string(types.ArtifactMetrics) + "/metrics.json"

// Sink receives a finished run summary.
type Sink interface {
	Name() string
	Publish(ctx context.Context, summary types.RunSummary) error
}

// Encode renders a summary as the metrics.json document, indented by four
// spaces.
func Encode(summary types.RunSummary) ([]byte, error) {
	if summary.Raw == nil {
		summary.Raw = map[string]types.TenantSummary{}
	}
	if summary.Framework == nil {
		summary.Framework = map[string]types.TenantSummary{}
	}
	data, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("sink: failed to encode summary: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a metrics.json document.
func Decode(r io.Reader) (types.RunSummary, error) {
	var s types.RunSummary
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return types.RunSummary{}, fmt.Errorf("sink: failed to decode summary: %w", err)
	}
	return s, nil
}

// ReadFile loads a metrics.json file.
func ReadFile(path string) (types.RunSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.RunSummary{}, err
	}
	defer f.Close()
	return Decode(f)
}

// FileSink writes metrics.json atomically to a local path.
type FileSink struct {
	path   string
	result atomicfile.Result
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Name returns "file".
func (s *FileSink) Name() string { return "file" }

// Path returns the destination path.
func (s *FileSink) Path() string { return s.path }

// Publish writes the summary.
func (s *FileSink) Publish(ctx context.Context, summary types.RunSummary) error {
	data, err := Encode(summary)
	if err != nil {
		return err
	}
	res, err := atomicfile.Write(ctx, s.path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("sink: failed to write %s: %w", s.path, err)
	}
	s.result = res
	return nil
}

// Artifact describes the last written file.
func (s *FileSink) Artifact() types.Artifact {
	return types.Artifact{
		Kind:        types.ArtifactMetrics,
		Path:        s.result.Path,
		SizeBytes:   s.result.SizeBytes,
		Fingerprint: s.result.Fingerprint,
	}
}

// StorageSink uploads the summary to object storage as metrics/metrics.json.
type StorageSink struct {
	storage storage.ObjectStorage
	key     string
	meta    storage.Metadata
}

// NewStorageSink creates a sink uploading under MetricsObjectKey.
func NewStorageSink(st storage.ObjectStorage, meta storage.Metadata) *StorageSink {
	return &StorageSink{storage: st, key: MetricsObjectKey, meta: meta}
}

// Name returns "storage".
func (s *StorageSink) Name() string { return "storage" }

// Publish stages the encoded summary in a temp file and uploads it.
func (s *StorageSink) Publish(ctx context.Context, summary types.RunSummary) error {
	data, err := Encode(summary)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "sensorsplit-metrics-*.json")
	if err != nil {
		return fmt.Errorf("sink: failed to stage summary: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("sink: failed to stage summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sink: failed to stage summary: %w", err)
	}

	if err := s.storage.Upload(ctx, tmp.Name(), s.key, s.meta); err != nil {
		return fmt.Errorf("sink: failed to upload %s: %w", s.key, err)
	}
	return nil
}

// Fanout publishes to every sink, logging each failure. It returns the
// joined errors of all failed sinks.
func Fanout(ctx context.Context, logger *slog.Logger, summary types.RunSummary, sinks ...Sink) error {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, summary); err != nil {
			logger.Error("summary sink failed", "sink", s.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Debug("summary published", "sink", s.Name())
	}
	return errors.Join(errs...)
}
