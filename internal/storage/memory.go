package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend implements ObjectStore using an in-memory map. It backs
// local development and tests; issued URLs are not reachable over HTTP,
// so callers place uploaded bytes with PutObject.
type MemoryBackend struct {
	Bucket string

	mu      sync.RWMutex
	objects map[string][]byte
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend(bucket string) *MemoryBackend {
	return &MemoryBackend{
		Bucket:  bucket,
		objects: make(map[string][]byte),
		now:     time.Now,
	}
}

// PresignPut returns a memory:// URL naming the bucket, key and expiry.
func (b *MemoryBackend) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "memory",
		Host:     b.Bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {fmt.Sprint(b.now().Add(ttl).Unix())}}.Encode(),
	}
	return u.String(), nil
}

// PutObject stores data at key, standing in for a client's signed upload.
func (b *MemoryBackend) PutObject(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
}

// GetObject returns a copy of the bytes stored at key.
func (b *MemoryBackend) GetObject(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (b *MemoryBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[srcKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
	}
	b.objects[dstKey] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// ListObjects returns the keys under prefix in lexical order.
func (b *MemoryBackend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

var _ ObjectStore = (*MemoryBackend)(nil)
