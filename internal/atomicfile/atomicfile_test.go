package atomicfile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWrite_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.csv")

	res, err := Write(context.Background(), path, func(w io.Writer) error {
		_, err := io.WriteString(w, "a,b\n1,2\n")
		return err
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("content mismatch: %q", data)
	}
	if res.SizeBytes != int64(len(data)) {
		t.Errorf("SizeBytes = %d, want %d", res.SizeBytes, len(data))
	}

	fp, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if fp != res.Fingerprint {
		t.Errorf("fingerprint mismatch: %s vs %s", fp, res.Fingerprint)
	}
}

func TestWrite_FailureKeepsPreviousContentAndNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := Write(context.Background(), path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Errorf("destination changed on failure: %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the destination file, found %d entries", len(entries))
	}
}

func TestWrite_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "out.csv")
	_, err := Write(ctx, path, func(w io.Writer) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be created for a cancelled write")
	}
}

func TestDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	if err := Discard(path); err != nil {
		t.Errorf("Discard of a missing file should succeed: %v", err)
	}
	os.WriteFile(path, []byte("x"), 0644)
	if err := Discard(path); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after Discard")
	}
}
