package coalescer

import (
	"context"
	"fmt"
)

// Fetcher loads values for a deduplicated list of keys. Keys it can't
// resolve must be left out of the map; an error fails the whole batch.
type Fetcher[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// WithCache wraps fetch with a read-through cache. Keys found in cache are
// not passed to fetch, fetched values are stored back.
func WithCache[K comparable, V any](cache Cache[K, V], fetch Fetcher[K, V]) Fetcher[K, V] {
	if cache == nil || fetch == nil {
		return fetch
	}

	w := &wrapper[K, V]{fetch: fetch, cache: cache}
	if cmany, ok := cache.(CacheGetMany[K, V]); ok {
		w.cacheGetMany = cmany
	}
	if cmany, ok := cache.(CachePutMany[K, V]); ok {
		w.cachePutMany = cmany
	}

	return w.Fetch
}

type wrapper[K comparable, V any] struct {
	fetch        Fetcher[K, V]
	cache        Cache[K, V]
	cacheGetMany CacheGetMany[K, V]
	cachePutMany CachePutMany[K, V]
}

func (w *wrapper[K, V]) Fetch(ctx context.Context, keys []K) (map[K]V, error) {
	result := make(map[K]V, len(keys))
	reqK := make([]K, 0, len(keys))

	if w.cacheGetMany != nil {
		items := w.cacheGetMany.GetMany(ctx, keys)
		for _, k := range keys {
			if v, ok := items[k]; ok {
				result[k] = v
				continue
			}

			reqK = append(reqK, k)
		}
	} else {
		for _, k := range keys {
			if v, ok := w.cache.Get(ctx, k); ok {
				result[k] = v
				continue
			}

			reqK = append(reqK, k)
		}
	}

	if len(reqK) == 0 {
		return result, nil
	}

	items, err := w.fetch(ctx, reqK)
	if err != nil {
		return nil, err
	}

	if w.cachePutMany != nil {
		w.cachePutMany.PutMany(ctx, items)
	}

	for k, v := range items {
		result[k] = v

		if w.cachePutMany == nil {
			w.cache.Put(ctx, k, v)
		}
	}

	return result, nil
}

// safeFetch turns a fetcher panic into a batch error
func safeFetch[K comparable, V any](ctx context.Context, fetch Fetcher[K, V], keys []K) (result map[K]V, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %#v", ErrPanicRecover, r)
		}
	}()

	return fetch(ctx, keys)
}
