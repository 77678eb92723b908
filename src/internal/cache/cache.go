// Package cache provides short-lived in-memory caches for OS lookups.
package cache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache is a typed wrapper around go-cache.
type TTLCache[T any] struct {
	items *gocache.Cache
	ttl   time.Duration
}

// New creates a cache whose entries expire after ttl.
// Expired entries are purged every 2*ttl.
func New[T any](ttl time.Duration) *TTLCache[T] {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &TTLCache[T]{
		items: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get returns the cached value for key.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key with the default TTL.
func (c *TTLCache[T]) Set(key string, value T) {
	c.items.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes key.
func (c *TTLCache[T]) Delete(key string) {
	c.items.Delete(key)
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (c *TTLCache[T]) GetOrLoad(key string, load func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// HashFile returns the hex SHA256 of a file's contents.
func HashFile(filePath string) (string, error) {
	// #nosec G304 -- callers pass paths derived from the configured project root
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
