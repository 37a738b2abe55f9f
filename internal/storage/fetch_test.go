package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFetcher(t *testing.T) {
	st, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	keys := []string{
		"framework/sensitive/sensitive_data_tenant_1.crypt",
		"framework/sensitive/sensitive_data_tenant_2.crypt",
		"raw/raw_data_tenant_1.csv",
	}
	for _, k := range keys {
		if err := st.Upload(ctx, writeSource(t, k), k, nil); err != nil {
			t.Fatal(err)
		}
	}

	dir := t.TempDir()
	res, err := NewFetcher(st, 2, dir).Fetch(ctx, append(keys, "raw/missing.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.LocalPaths) != 3 {
		t.Fatalf("LocalPaths = %v", res.LocalPaths)
	}
	if !errors.Is(res.Errors["raw/missing.csv"], ErrObjectNotFound) {
		t.Errorf("missing object error = %v", res.Errors["raw/missing.csv"])
	}

	local := res.LocalPaths["framework/sensitive/sensitive_data_tenant_1.crypt"]
	if local != filepath.Join(dir, "sensitive_sensitive_data_tenant_1.crypt") {
		t.Errorf("local path = %s", local)
	}
	data, err := os.ReadFile(local)
	if err != nil || string(data) != "framework/sensitive/sensitive_data_tenant_1.crypt" {
		t.Errorf("content = %q, %v", data, err)
	}
}

func TestFetcherCancelled(t *testing.T) {
	st, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewFetcher(st, 1, t.TempDir()).Fetch(ctx, []string{"a", "b"})
	if err == nil {
		t.Error("expected error on cancelled context")
	}
	if len(res.LocalPaths) != 0 {
		t.Errorf("LocalPaths = %v", res.LocalPaths)
	}
}
