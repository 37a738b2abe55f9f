package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads many objects in parallel into one directory.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	dir         string
}

// FetchResult maps object paths to local paths or errors.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
}

// NewFetcher creates a fetcher writing into dir with at most concurrency
// downloads in flight.
func NewFetcher(storage ObjectStorage, concurrency int, dir string) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{storage: storage, concurrency: concurrency, dir: dir}
}

// Fetch downloads every object. Per-object failures are reported in the
// result; the returned error is set only when the context ends first.
func (f *Fetcher) Fetch(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, fmt.Errorf("fetch interrupted: %w", err)
		}

		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			local := f.localPath(objectPath)
			err := f.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
		}(p)
	}

	wg.Wait()
	return result, nil
}

// localPath flattens the object key into a single file name so keys from
// different prefixes cannot collide or escape dir.
func (f *Fetcher) localPath(objectPath string) string {
	dir, name := path.Split(objectPath)
	flat := name
	if dir != "" {
		flat = filepath.Base(filepath.FromSlash(path.Clean(dir))) + "_" + name
	}
	return filepath.Join(f.dir, flat)
}
