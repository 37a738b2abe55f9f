package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sensorsplit/sensorsplit/internal/storage"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

func sampleSummary() types.RunSummary {
	return types.RunSummary{
		Raw: map[string]types.TenantSummary{
			"1": {ExecutionTimeMS: 20, MemoryUsed: "42.92 MB", Samples: 3},
		},
		Framework: map[string]types.TenantSummary{
			"1": {ExecutionTimeMS: 35, MemoryUsed: "35.76 MB", UtilityCheck: map[string]float64{"NS_T1": 25}, Samples: 3},
		},
		Timestamp: "2026-10-16 12:00:00",
	}
}

func TestEncodeShape(t *testing.T) {
	data, err := Encode(types.RunSummary{Timestamp: "2026-10-16 12:00:00"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"raw": {}`, `"framework": {}`, `"timestamp": "2026-10-16 12:00:00"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded summary missing %s:\n%s", want, s)
		}
	}
	if !strings.HasPrefix(s, "{\n    \"raw\"") {
		t.Errorf("expected four-space indentation:\n%s", s)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	s := NewFileSink(path)

	if err := s.Publish(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Framework["1"].UtilityCheck["NS_T1"] != 25 || got.Raw["1"].MemoryUsed != "42.92 MB" {
		t.Errorf("round trip = %+v", got)
	}

	a := s.Artifact()
	if a.Kind != types.ArtifactMetrics || a.ObjectKey() != MetricsObjectKey || a.SizeBytes == 0 || a.Fingerprint == "" {
		t.Errorf("artifact = %+v", a)
	}
}

func TestStorageSink(t *testing.T) {
	st, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s := NewStorageSink(st, storage.Metadata{"run-id": "r1"})

	if err := s.Publish(ctx, sampleSummary()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "m.json")
	if err := st.Download(ctx, "metrics/metrics.json", dst); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if got.Timestamp != "2026-10-16 12:00:00" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}
	if meta, _ := st.Metadata("metrics/metrics.json"); meta["run-id"] != "r1" {
		t.Errorf("metadata = %v", meta)
	}
}

type errSink struct{ err error }

func (e errSink) Name() string { return "broken" }
func (e errSink) Publish(context.Context, types.RunSummary) error {
	return e.err
}

func TestFanout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	boom := errors.New("boom")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := Fanout(context.Background(), logger, sampleSummary(), errSink{boom}, NewFileSink(path))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("later sinks should still run: %v", statErr)
	}

	if err := Fanout(context.Background(), logger, sampleSummary()); err != nil {
		t.Errorf("no sinks: %v", err)
	}
}
