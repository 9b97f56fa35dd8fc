package pipeline

import (
	"errors"
	"sync"
)

// ErrRunnerClosed is returned for runs submitted after Close.
var ErrRunnerClosed = errors.New("pipeline: runner closed")

// pathLocks serializes runs that target the same output path while
// letting runs on different paths proceed in parallel.
type pathLocks struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire takes the lock for path, creating it on first use. The
// returned release function is safe to call more than once.
func (p *pathLocks) acquire(path string) (release func(), err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrRunnerClosed
	}
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	p.inFlight.Add(1)
	p.mu.Unlock()

	l.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.Unlock()
			p.inFlight.Done()
		})
	}, nil
}

// close refuses new acquisitions and waits for in-flight holders.
func (p *pathLocks) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inFlight.Wait()
}
