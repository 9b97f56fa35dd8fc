package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CacheMetrics holds file cache counters for observability.
type CacheMetrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

// FileCache is a byte-budget cache for downloaded reference images.
// Repeated ingests of the same target reuse the cached FITS files
// instead of pulling them from the archive again.
type FileCache struct {
	dir       string
	maxBytes  int64
	metrics   CacheMetrics
	index     sync.Map // objectPath -> *cacheEntry
	evictChan chan string
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

type cacheEntry struct {
	localPath   string
	sizeBytes   int64
	lastAccess  atomic.Int64 // Unix nanos
	accessCount atomic.Int64
	pinned      atomic.Bool
}

// NewFileCache opens (or creates) a cache directory with the given
// byte budget and rebuilds the index from files already present.
func NewFileCache(dir string, maxBytes int64) (*FileCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache budget must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	c := &FileCache{
		dir:       dir,
		maxBytes:  maxBytes,
		evictChan: make(chan string, 1000),
		stopChan:  make(chan struct{}),
	}
	if err := c.scanExisting(); err != nil {
		return nil, fmt.Errorf("scanning cache dir: %w", err)
	}

	c.wg.Add(1)
	go c.evictionWorker()
	return c, nil
}

// Close stops the eviction worker and waits for it.
func (c *FileCache) Close() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *FileCache) scanExisting() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		e := &cacheEntry{
			localPath: filepath.Join(c.dir, entry.Name()),
			sizeBytes: info.Size(),
		}
		e.lastAccess.Store(time.Now().UnixNano())
		c.index.Store(entry.Name(), e)
		c.metrics.SizeBytes.Add(info.Size())
		c.metrics.Entries.Add(1)
	}
	return nil
}

// Get returns the cached local path for an object, if present.
func (c *FileCache) Get(objectPath string) (string, bool) {
	v, ok := c.index.Load(objectPath)
	if !ok {
		c.metrics.Misses.Add(1)
		return "", false
	}
	c.metrics.Hits.Add(1)
	e := v.(*cacheEntry)
	e.lastAccess.Store(time.Now().UnixNano())
	e.accessCount.Add(1)
	return e.localPath, true
}

// Put copies a downloaded file into the cache and may trigger an
// asynchronous eviction pass when over budget.
func (c *FileCache) Put(objectPath, sourcePath string) (string, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	destPath := filepath.Join(c.dir, sanitizeCacheName(objectPath))
	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating cache file: %w", err)
	}
	defer dst.Close()

	written, err := src.WriteTo(dst)
	if err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("copying into cache: %w", err)
	}
	if written != info.Size() {
		os.Remove(destPath)
		return "", fmt.Errorf("short copy into cache: %d of %d bytes", written, info.Size())
	}

	e := &cacheEntry{localPath: destPath, sizeBytes: written}
	e.lastAccess.Store(time.Now().UnixNano())
	e.accessCount.Store(1)
	c.index.Store(objectPath, e)
	c.metrics.SizeBytes.Add(written)
	c.metrics.Entries.Add(1)

	if c.metrics.SizeBytes.Load() > c.maxBytes {
		select {
		case c.evictChan <- objectPath:
		default:
		}
	}
	return destPath, nil
}

func (c *FileCache) evictionWorker() {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			c.evictToTarget()
			return
		case objectPath := <-c.evictChan:
			if c.metrics.SizeBytes.Load() > c.maxBytes {
				c.tryEvictOne(objectPath)
			}
		case <-ticker.C:
			c.evictToTarget()
		}
	}
}

// evictToTarget drops least-used entries until usage is back under
// 90% of the budget.
func (c *FileCache) evictToTarget() {
	targetSize := int64(float64(c.maxBytes) * 0.9)
	if c.metrics.SizeBytes.Load() <= targetSize {
		return
	}

	type candidate struct {
		path       string
		accessTime int64
		count      int64
	}
	var candidates []candidate
	c.index.Range(func(key, value interface{}) bool {
		e := value.(*cacheEntry)
		if !e.pinned.Load() {
			candidates = append(candidates, candidate{
				path:       key.(string),
				accessTime: e.lastAccess.Load(),
				count:      e.accessCount.Load(),
			})
		}
		return true
	})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].accessTime < candidates[j].accessTime
	})

	for _, cand := range candidates {
		if c.metrics.SizeBytes.Load() <= targetSize {
			break
		}
		c.tryEvictOne(cand.path)
	}
}

func (c *FileCache) tryEvictOne(objectPath string) {
	v, ok := c.index.Load(objectPath)
	if !ok {
		return
	}
	e := v.(*cacheEntry)
	if e.pinned.Load() {
		return
	}
	if err := os.Remove(e.localPath); err == nil {
		c.metrics.SizeBytes.Add(-e.sizeBytes)
		c.metrics.Entries.Add(-1)
		c.index.Delete(objectPath)
		c.metrics.Evictions.Add(1)
		log.Printf("cache: evicted %s (freed %d bytes)", objectPath, e.sizeBytes)
	}
}

// Pin protects an entry from eviction while it is being read.
func (c *FileCache) Pin(objectPath string) {
	if v, ok := c.index.Load(objectPath); ok {
		v.(*cacheEntry).pinned.Store(true)
	}
}

// Unpin makes an entry evictable again.
func (c *FileCache) Unpin(objectPath string) {
	if v, ok := c.index.Load(objectPath); ok {
		v.(*cacheEntry).pinned.Store(false)
	}
}

// Remove deletes an entry and its file.
func (c *FileCache) Remove(objectPath string) bool {
	v, ok := c.index.LoadAndDelete(objectPath)
	if !ok {
		return false
	}
	e := v.(*cacheEntry)
	if err := os.Remove(e.localPath); err == nil {
		c.metrics.SizeBytes.Add(-e.sizeBytes)
		c.metrics.Entries.Add(-1)
		return true
	}
	return false
}

// Size returns current usage in bytes.
func (c *FileCache) Size() int64 { return c.metrics.SizeBytes.Load() }

// Count returns the number of cached files.
func (c *FileCache) Count() int64 { return c.metrics.Entries.Load() }

// Capacity returns the byte budget.
func (c *FileCache) Capacity() int64 { return c.maxBytes }

// HitRate returns the hit rate as a percentage.
func (c *FileCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// sanitizeCacheName flattens an object path into a single safe
// filename.
func sanitizeCacheName(objectPath string) string {
	name := make([]byte, 0, len(objectPath))
	for i := 0; i < len(objectPath); i++ {
		switch objectPath[i] {
		case '/', '\\', ':', 0:
			name = append(name, '_')
		default:
			name = append(name, objectPath[i])
		}
	}
	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	return string(name)
}
