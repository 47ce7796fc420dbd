package frontier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Default concurrency caps.
const (
	DefaultGlobalConcurrency  = 10
	DefaultPerHostConcurrency = 3
)

// Limiter bounds in-flight fetches globally and per host. Host semaphores
// are created lazily and live as long as the Limiter.
type Limiter struct {
	global  *semaphore.Weighted
	perHost int64

	mu    sync.Mutex
	hosts map[string]*semaphore.Weighted
}

// NewLimiter builds a Limiter. Non-positive caps fall back to the defaults.
func NewLimiter(globalCap, perHostCap int) *Limiter {
	if globalCap <= 0 {
		globalCap = DefaultGlobalConcurrency
	}
	if perHostCap <= 0 {
		perHostCap = DefaultPerHostConcurrency
	}
	return &Limiter{
		global:  semaphore.NewWeighted(int64(globalCap)),
		perHost: int64(perHostCap),
		hosts:   make(map[string]*semaphore.Weighted),
	}
}

// Acquire blocks until both a host permit and a global permit are held.
// The host permit is taken first so that a congested host never pins a
// global slot while it waits. The returned release func is idempotent.
func (l *Limiter) Acquire(ctx context.Context, host string) (func(), error) {
	hostSem := l.hostSemaphore(host)
	if err := hostSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire host permit %s: %w", host, err)
	}
	if err := l.global.Acquire(ctx, 1); err != nil {
		hostSem.Release(1)
		return nil, fmt.Errorf("acquire global permit: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.global.Release(1)
			hostSem.Release(1)
		})
	}, nil
}

// Hosts reports how many host semaphores have been created.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) hostSemaphore(host string) *semaphore.Weighted {
	key := strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.hosts[key]
	if !ok {
		sem = semaphore.NewWeighted(l.perHost)
		l.hosts[key] = sem
	}
	return sem
}
