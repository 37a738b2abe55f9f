// Package atomicfile writes files so that readers observe either the
// previous content or the complete new content, never a partial write.
package atomicfile

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// Result describes a completed write.
type Result struct {
	Path        string
	SizeBytes   int64
	Fingerprint string // murmur3-128 of the content, hex encoded
}

// WriteFunc streams content into w.
type WriteFunc func(w io.Writer) error

// Write streams content to a temporary file in the destination directory,
// syncs it and renames it over path. On any failure the temporary file is
// removed and path is left untouched.
func Write(ctx context.Context, path string, fn WriteFunc) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("atomicfile: failed to create directory: %w", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("atomicfile: failed to create temp file: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	hash := murmur3.New128()
	counter := &countingWriter{}
	buf := bufio.NewWriter(io.MultiWriter(f, hash, counter))

	if err := fn(buf); err != nil {
		return Result{}, err
	}
	if err := buf.Flush(); err != nil {
		return Result{}, fmt.Errorf("atomicfile: failed to flush: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := f.Sync(); err != nil {
		return Result{}, fmt.Errorf("atomicfile: failed to sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("atomicfile: failed to close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		committed = true
		return Result{}, fmt.Errorf("atomicfile: failed to rename: %w", err)
	}
	committed = true

	return Result{
		Path:        path,
		SizeBytes:   counter.n,
		Fingerprint: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Discard removes path if it exists.
func Discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("atomicfile: failed to remove %s: %w", path, err)
	}
	return nil
}

// Fingerprint returns the murmur3-128 hex digest of a file's content.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := murmur3.New128()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
