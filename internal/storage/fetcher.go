package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetch priorities. Reference images needed for the current ingest
// come first; prefetches for queued targets fill idle slots.
const (
	PriorityReference = 0
	PriorityPrefetch  = 1
)

// Fetcher pulls reference images and archived stores out of object
// storage with bounded parallelism. A FileCache, when attached, short
// circuits downloads that were already fetched for an earlier run.
type Fetcher struct {
	storage     ObjectStorage
	cache       *FileCache
	workDir     string
	concurrency int
}

// FetchRequest names the objects to pull, with an optional per-object
// priority (same length as ObjectPaths, lower first).
type FetchRequest struct {
	ObjectPaths []string
	Priority    []int
}

// FetchResult maps each requested object to its local path or its
// error.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewFetcher builds a fetcher. cache may be nil, in which case every
// request downloads into workDir.
func NewFetcher(storage ObjectStorage, cache *FileCache, workDir string, concurrency int) *Fetcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Fetcher{
		storage:     storage,
		cache:       cache,
		workDir:     workDir,
		concurrency: concurrency,
	}
}

// Fetch resolves every requested object to a local file. Individual
// failures land in the result's Errors map; only a malformed request
// fails the whole call.
func (f *Fetcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(req.ObjectPaths) == 0 {
		return result, nil
	}

	priority := req.Priority
	if len(priority) == 0 {
		priority = make([]int, len(req.ObjectPaths))
	} else if len(priority) != len(req.ObjectPaths) {
		return nil, fmt.Errorf("priority list has %d entries for %d objects",
			len(priority), len(req.ObjectPaths))
	}

	type item struct {
		path     string
		priority int
	}
	items := make([]item, len(req.ObjectPaths))
	for i, p := range req.ObjectPaths {
		items[i] = item{path: p, priority: priority[i]}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].priority < items[j].priority
	})

	var queue []item
	for _, it := range items {
		if f.cache != nil {
			if local, ok := f.cache.Get(it.path); ok {
				result.LocalPaths[it.path] = local
				result.CacheHits++
				continue
			}
		}
		queue = append(queue, it)
	}

	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, it := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[it.path] = err
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			local := filepath.Join(f.workDir, sanitizeCacheName(objectPath))
			if err := f.storage.Download(ctx, objectPath, local); err != nil {
				mu.Lock()
				result.Errors[objectPath] = err
				mu.Unlock()
				return
			}
			if f.cache != nil {
				if cached, err := f.cache.Put(objectPath, local); err == nil {
					local = cached
				}
			}

			mu.Lock()
			result.LocalPaths[objectPath] = local
			result.Downloads++
			mu.Unlock()
		}(it.path)
	}
	wg.Wait()

	return result, nil
}
