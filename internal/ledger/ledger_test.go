package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sensorsplit/sensorsplit/pkg/types"
)

func openTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RunLifecycle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	err := l.BeginRun(ctx, Run{
		ID:        "run-1",
		StartedAt: start,
		Tenants:   []string{"1", "2"},
		Config:    json.RawMessage(`{"run":{"duration":"30s"}}`),
	})
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	rec, err := l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if rec.Finished() {
		t.Error("run should not be finished yet")
	}
	if len(rec.Tenants) != 2 || rec.Tenants[1] != "2" {
		t.Errorf("tenants = %v", rec.Tenants)
	}
	if !rec.StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", rec.StartedAt, start)
	}

	success := types.PipelineOutcome{
		Tenant:          "1",
		Kind:            types.KindFramework,
		Iteration:       0,
		Status:          types.StatusSuccess,
		ExecutionTimeMS: 12.5,
		MemoryUsed:      "35.76 MB",
		MemoryBytes:     37_500_000,
		UtilityCheck:    map[string]float64{"NS_T1": 25.1},
		Artifacts: []types.Artifact{
			{Kind: types.ArtifactNonSensitive, Path: "/w/non_sensitive_data_tenant_1.csv", SizeBytes: 100, Fingerprint: "aa"},
			{Kind: types.ArtifactSensitive, Path: "/w/sensitive_data_tenant_1.crypt", SizeBytes: 200, Fingerprint: "bb"},
		},
		StartedAt: start,
	}
	failure := types.PipelineOutcome{
		Tenant:    "2",
		Kind:      types.KindRaw,
		Iteration: 0,
		Status:    types.StatusError,
		ErrorKind: "serialization",
		Message:   "disk full",
		StartedAt: start,
	}
	for _, o := range []types.PipelineOutcome{success, failure} {
		if err := l.RecordOutcome(ctx, "run-1", o); err != nil {
			t.Fatalf("RecordOutcome failed: %v", err)
		}
	}

	summary := types.RunSummary{
		Raw:       map[string]types.TenantSummary{},
		Framework: map[string]types.TenantSummary{"1": {ExecutionTimeMS: 12.5, MemoryUsed: "35.76 MB", Samples: 1}},
		Timestamp: "2023-11-14 22:13:20",
	}
	if err := l.FinishRun(ctx, "run-1", start.Add(time.Second), summary, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	rec, err = l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Finished() || rec.Status != RunStatusCompleted {
		t.Errorf("run status = %q finished=%v", rec.Status, rec.Finished())
	}
	if rec.Outcomes != 2 || rec.Failures != 1 {
		t.Errorf("outcomes = %d failures = %d, want 2 and 1", rec.Outcomes, rec.Failures)
	}

	got, err := l.Summary(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Framework["1"].MemoryUsed != "35.76 MB" || got.Timestamp != summary.Timestamp {
		t.Errorf("summary = %+v", got)
	}

	outcomes, err := l.Outcomes(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	if outcomes[0].UtilityCheck["NS_T1"] != 25.1 {
		t.Errorf("utility = %v", outcomes[0].UtilityCheck)
	}
	if len(outcomes[0].Artifacts) != 2 || outcomes[0].Artifacts[1].Fingerprint != "bb" {
		t.Errorf("artifacts = %+v", outcomes[0].Artifacts)
	}
	if outcomes[1].OK() || outcomes[1].ErrorKind != "serialization" || outcomes[1].UtilityCheck != nil {
		t.Errorf("failure outcome = %+v", outcomes[1])
	}
}

func TestLedger_FailedRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if err := l.BeginRun(ctx, Run{ID: "r", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := l.FinishRun(ctx, "r", time.Now(), types.RunSummary{}, errors.New("every iteration failed")); err != nil {
		t.Fatal(err)
	}
	rec, err := l.GetRun(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != RunStatusFailed || rec.Error != "every iteration failed" {
		t.Errorf("status = %q error = %q", rec.Status, rec.Error)
	}
}

func TestLedger_NotFound(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: expected ErrRunNotFound, got %v", err)
	}
	if _, err := l.Summary(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Summary: expected ErrRunNotFound, got %v", err)
	}
	if _, _, err := l.LatestSummary(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestSummary: expected ErrRunNotFound, got %v", err)
	}
	if err := l.FinishRun(ctx, "missing", time.Now(), types.RunSummary{}, nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun: expected ErrRunNotFound, got %v", err)
	}
	if err := l.RecordOutcome(ctx, "missing", types.PipelineOutcome{Tenant: "1", Kind: types.KindRaw}); err == nil {
		t.Error("RecordOutcome for an unknown run should fail")
	}
	if err := l.BeginRun(ctx, Run{}); err == nil {
		t.Error("BeginRun without ID should fail")
	}
}

func TestLedger_ListRunsAndLatest(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"a", "b", "c"} {
		started := base.Add(time.Duration(i) * time.Minute)
		if err := l.BeginRun(ctx, Run{ID: id, StartedAt: started}); err != nil {
			t.Fatal(err)
		}
		s := types.RunSummary{Timestamp: id}
		if err := l.FinishRun(ctx, id, started.Add(time.Second), s, nil); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := l.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns = %v", runs)
	}

	all, err := l.ListRuns(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("ListRuns(0) = %d runs, %v", len(all), err)
	}

	id, s, err := l.LatestSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "c" || s.Timestamp != "c" {
		t.Errorf("LatestSummary = %s %+v", id, s)
	}
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.BeginRun(ctx, Run{ID: "persisted", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if _, err := l.GetRun(ctx, "persisted"); err != nil {
		t.Errorf("run lost across reopen: %v", err)
	}
}
