package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry implements Registry with an in-process map. Claims are
// lost on restart, so it suits tests and single-process development only.
type MemoryRegistry struct {
	mu     sync.RWMutex
	claims map[string]time.Time // key -> expiry
	now    func() time.Time
}

// NewMemoryRegistry creates an empty MemoryRegistry on the wall clock.
func NewMemoryRegistry() *MemoryRegistry {
	return NewMemoryRegistryWithClock(time.Now)
}

// NewMemoryRegistryWithClock creates an empty MemoryRegistry that reads the
// time from now, letting tests move past a claim's expiry.
func NewMemoryRegistryWithClock(now func() time.Time) *MemoryRegistry {
	return &MemoryRegistry{
		claims: make(map[string]time.Time),
		now:    now,
	}
}

func (r *MemoryRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[key] = expiryFor(r.now(), ttl)
	return nil
}

func (r *MemoryRegistry) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, key)
	return nil
}

func (r *MemoryRegistry) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	expiry, ok := r.claims[key]
	return ok && r.now().Before(expiry), nil
}

// PurgeExpired drops expired claims from the map.
func (r *MemoryRegistry) PurgeExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var n int64
	for k, expiry := range r.claims {
		if !now.Before(expiry) {
			delete(r.claims, k)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRegistry) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRegistry) Close() error {
	return nil
}

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Purger   = (*MemoryRegistry)(nil)
)
