// Package cache memoizes weather provider responses for a bounded time.
package cache

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Endpoint names the provider endpoint a cached value came from.
type Endpoint string

const (
	EndpointCurrent  Endpoint = "current"
	EndpointForecast Endpoint = "forecast"
)

// MinTTL is the shortest expiry accepted; shorter TTLs are raised to it.
const MinTTL = time.Minute

// Key identifies one cached provider response.
type Key struct {
	Endpoint Endpoint
	City     string
	Country  string
	Units    string
}

// NewKey trims city and country and folds their case so that spellings
// differing only in case share an entry.
func NewKey(endpoint Endpoint, city, country, units string) Key {
	return Key{
		Endpoint: endpoint,
		City:     strings.ToLower(strings.TrimSpace(city)),
		Country:  strings.ToLower(strings.TrimSpace(country)),
		Units:    units,
	}
}

func (k Key) String() string {
	return "owm:" + string(k.Endpoint) + ":" + k.City + ":" + k.Country + ":" + k.Units
}

// FetchFunc produces a fresh value on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache returns a stored value for key while it is unexpired, otherwise calls
// fetch and stores its result for ttl. Errors from fetch are never stored.
type Cache[T any] interface {
	GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc[T]) (T, error)
}

// Purger is implemented by caches that can drop expired entries on demand.
type Purger interface {
	Purge() int
}

// NormalizeTTL applies the MinTTL floor.
func NormalizeTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

// FetchTimeout bounds a shared fetch. A shared fetch does not inherit the
// cancellation of the caller that started it.
const FetchTimeout = 2 * time.Minute

// sharedFetch runs fn at most once per key across concurrent callers. fn gets
// a context detached from the caller that started the flight, so cancelling
// one waiter only ends that waiter's wait.
func sharedFetch[T any](ctx context.Context, group *singleflight.Group, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	ch := group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		return fn(fetchCtx)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Nop never stores anything; every call goes to fetch.
type Nop[T any] struct{}

func (Nop[T]) GetOrFetch(ctx context.Context, _ Key, _ time.Duration, fetch FetchFunc[T]) (T, error) {
	return fetch(ctx)
}
