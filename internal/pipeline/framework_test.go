package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sensorsplit/sensorsplit/internal/atomicfile"
	"github.com/sensorsplit/sensorsplit/internal/classify"
	"github.com/sensorsplit/sensorsplit/internal/codec"
	"github.com/sensorsplit/sensorsplit/internal/measure"
	"github.com/sensorsplit/sensorsplit/internal/protect"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

func newFramework(secret string, policy classify.UnclassifiedPolicy) *Framework {
	return NewFramework(
		classify.New(policy),
		protect.NewSealer(protect.Options{Secret: secret, Cost: 10}),
		measure.NewProbe(measure.HeapSampler{}),
		FrameworkOptions{BaselineOffset: DefaultFrameworkBaselineOffset},
	)
}

func destinations(dir, tenant string) Destinations {
	return Destinations{
		Sensitive:    filepath.Join(dir, "sensitive_data_tenant_"+tenant+".crypt"),
		NonSensitive: filepath.Join(dir, "non_sensitive_data_tenant_"+tenant+".csv"),
	}
}

func TestFrameworkRun(t *testing.T) {
	dir := t.TempDir()
	dest := destinations(dir, "1")
	b := types.Batch{
		Tenant:  "1",
		Columns: []string{"S_NAME", "NS_TEMPERATURE"},
		Rows: []types.Record{
			{"S_NAME": "a", "NS_TEMPERATURE": 20.0},
			{"S_NAME": "b", "NS_TEMPERATURE": 30.0},
		},
	}

	out := newFramework("secure_key", classify.PolicyDrop).Run(context.Background(), "1", b, dest)
	if !out.OK() {
		t.Fatalf("framework run failed: %s", out.Message)
	}
	if out.MemoryBytes < DefaultFrameworkBaselineOffset {
		t.Errorf("MemoryBytes = %d, want >= offset", out.MemoryBytes)
	}
	if got := out.UtilityCheck["NS_T1"]; got != 25.0 {
		t.Errorf("utility NS_T1 = %v, want 25", got)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(out.Artifacts))
	}

	f, err := os.Open(dest.NonSensitive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	ns, err := codec.ReadCSV(f, "1")
	if err != nil {
		t.Fatal(err)
	}
	if !equalColumns(ns.Columns, []string{"NS_TEMPERATURE", "NS_tenant_id"}) {
		t.Errorf("non-sensitive header = %v", ns.Columns)
	}
	for _, tag := range ns.Values("NS_tenant_id") {
		if tag != "NS_T1" {
			t.Errorf("tag = %v, want NS_T1", tag)
		}
	}

	sealed, err := protect.NewSealer(protect.Options{Secret: "secure_key"}).OpenFile(dest.Sensitive)
	if err != nil {
		t.Fatalf("failed to open sensitive artifact: %v", err)
	}
	if !equalColumns(sealed.Columns, []string{"S_NAME", "S_ID"}) {
		t.Errorf("sensitive columns = %v", sealed.Columns)
	}
	if sealed.Rows[0]["S_ID"] != "1_1" || sealed.Rows[1]["S_ID"] != "1_2" {
		t.Errorf("S_ID values = %v", sealed.Values("S_ID"))
	}

	if _, ok := b.Rows[0]["S_ID"]; ok {
		t.Error("caller's batch was mutated")
	}
}

func TestFrameworkProtectionFailure(t *testing.T) {
	dir := t.TempDir()
	dest := destinations(dir, "1")
	if err := os.WriteFile(dest.Sensitive, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	out := newFramework("", classify.PolicyDrop).Run(context.Background(), "1", makeBatch("1", 2), dest)
	if out.OK() {
		t.Fatal("expected failure with empty secret")
	}
	if out.ErrorKind != "protection" {
		t.Errorf("ErrorKind = %q, want protection", out.ErrorKind)
	}
	if _, err := os.Stat(dest.Sensitive); !os.IsNotExist(err) {
		t.Error("sensitive path should hold nothing after a protection failure")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFrameworkRejectPolicy(t *testing.T) {
	b := types.Batch{
		Tenant:  "1",
		Columns: []string{"S_NAME", "reading"},
		Rows:    []types.Record{{"S_NAME": "a", "reading": 1.0}},
	}
	dir := t.TempDir()
	out := newFramework("secure_key", classify.PolicyReject).Run(context.Background(), "1", b, destinations(dir, "1"))
	if out.OK() {
		t.Fatal("expected failure under reject policy")
	}
	if out.ErrorKind != "classification" {
		t.Errorf("ErrorKind = %q, want classification", out.ErrorKind)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("no artifact should be written, found %d", len(entries))
	}
}

func TestFrameworkUtilityFailure(t *testing.T) {
	b := types.Batch{
		Tenant:  "1",
		Columns: []string{"S_NAME", "NS_TEMPERATURE"},
		Rows:    []types.Record{{"S_NAME": "a", "NS_TEMPERATURE": "warm"}},
	}
	out := newFramework("secure_key", classify.PolicyDrop).Run(context.Background(), "1", b, Destinations{})
	if out.OK() {
		t.Fatal("expected utility failure")
	}
	if out.ErrorKind != "classification" {
		t.Errorf("ErrorKind = %q, want classification", out.ErrorKind)
	}
}

func TestFrameworkEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	dest := destinations(dir, "1")
	out := newFramework("secure_key", classify.PolicyDrop).Run(context.Background(), "1", types.Batch{Tenant: "1"}, dest)
	if !out.OK() {
		t.Fatalf("empty batch failed: %s", out.Message)
	}
	if len(out.Artifacts) != 0 {
		t.Errorf("artifacts = %v, want none", out.Artifacts)
	}
	if len(out.UtilityCheck) != 0 {
		t.Errorf("utility = %v, want empty", out.UtilityCheck)
	}
}

type stubProtector struct {
	err   error
	panic bool
}

func (s stubProtector) SealFile(ctx context.Context, b types.Batch, path string) (atomicfile.Result, error) {
	if s.panic {
		panic("sealer exploded")
	}
	return atomicfile.Result{}, s.err
}

func TestFrameworkProtectorErrors(t *testing.T) {
	tests := []struct {
		name string
		stub stubProtector
		want string
	}{
		{"plain error", stubProtector{err: errors.New("disk full")}, "protection"},
		{"panic", stubProtector{panic: true}, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := measure.NewProbe(measure.HeapSampler{})
			p := NewFramework(classify.New(classify.PolicyDrop), tt.stub, probe, FrameworkOptions{})
			out := p.Run(context.Background(), "1", makeBatch("1", 1), destinations(t.TempDir(), "1"))
			if out.OK() {
				t.Fatal("expected failure")
			}
			if out.ErrorKind != tt.want {
				t.Errorf("ErrorKind = %q, want %q", out.ErrorKind, tt.want)
			}

			// The probe must be free again.
			span, err := probe.Begin()
			if err != nil {
				t.Fatal(err)
			}
			span.Abort()
		})
	}
}

func TestUtilityCheck(t *testing.T) {
	ns := types.Batch{
		Tenant:  "1",
		Columns: []string{"NS_TEMPERATURE", "NS_tenant_id"},
		Rows: []types.Record{
			{"NS_TEMPERATURE": 20.0, "NS_tenant_id": "NS_T1"},
			{"NS_TEMPERATURE": "24", "NS_tenant_id": "NS_T1"},
			{"NS_tenant_id": "NS_T1"},
		},
	}
	got, err := UtilityCheck(ns, "NS_TEMPERATURE")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["NS_T1"] != 22.0 {
		t.Errorf("UtilityCheck = %v, want map[NS_T1:22]", got)
	}

	got, err = UtilityCheck(ns, "NS_PRESSURE")
	if err != nil || len(got) != 0 {
		t.Errorf("absent field: %v, %v", got, err)
	}
}
