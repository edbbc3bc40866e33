package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/clock"
)

// MemoryStorage keeps bucket state in process memory. A single mutex
// serializes updates, which makes Update atomic. Suitable for single
// instance deployments and tests.
type MemoryStorage struct {
	mu      sync.Mutex
	buckets map[string]bucketEntry
	clock   clock.Clock
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

type bucketEntry struct {
	state  BucketState
	expiry time.Time
}

// NewMemoryStorage creates an in-memory backend and starts a goroutine
// that evicts expired entries every cleanupInterval.
func NewMemoryStorage(clk clock.Clock, cleanupInterval time.Duration) *MemoryStorage {
	if clk == nil {
		clk = clock.System{}
	}
	ms := &MemoryStorage{
		buckets: make(map[string]bucketEntry),
		clock:   clk,
		stopCh:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		ms.wg.Add(1)
		go ms.cleanupLoop(cleanupInterval)
	}

	return ms
}

// Update applies fn to the state under key while holding the lock
func (ms *MemoryStorage) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock.Now()

	var current *BucketState
	if entry, ok := ms.buckets[key]; ok && now.Before(entry.expiry) {
		state := entry.state
		current = &state
	}

	ms.buckets[key] = bucketEntry{state: fn(current), expiry: now.Add(ttl)}
	return nil
}

// Get returns a copy of the live state under key
func (ms *MemoryStorage) Get(ctx context.Context, key string) (*BucketState, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.buckets[key]
	if !ok || !ms.clock.Now().Before(entry.expiry) {
		return nil, false, nil
	}
	state := entry.state
	return &state, true, nil
}

// Len returns the number of stored entries, expired or not
func (ms *MemoryStorage) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.buckets)
}

// Close stops the cleanup goroutine
func (ms *MemoryStorage) Close() error {
	ms.once.Do(func() { close(ms.stopCh) })
	ms.wg.Wait()
	return nil
}

// Ping always succeeds for in-memory storage
func (ms *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (ms *MemoryStorage) cleanupLoop(interval time.Duration) {
	defer ms.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.cleanup()
		case <-ms.stopCh:
			return
		}
	}
}

func (ms *MemoryStorage) cleanup() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock.Now()
	for key, entry := range ms.buckets {
		if !now.Before(entry.expiry) {
			delete(ms.buckets, key)
		}
	}
}
