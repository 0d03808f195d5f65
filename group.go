package coalescer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultWindow = 50 * time.Millisecond
)

type pending[K comparable, V any] struct {
	key    K
	future *Future[V]
}

// NewGroup create new group. fetch is used for requests enqueued without
// their own fetch func and may be nil.
func NewGroup[K comparable, V any](name string, fetch Fetcher[K, V], opts ...Option) *Group[K, V] {
	o := newOpt(opts)

	g := &Group[K, V]{
		ctx:   context.Background(),
		name:  name,
		opt:   o,
		fetch: fetch,
		log:   o.Logger.With(zap.String("group", name)),
	}

	if o.Limit > 0 {
		g.limiter = rate.NewLimiter(o.Limit, o.Burst)
	}

	return g
}

// Group coalesces point lookups of one kind of entity into bulk fetches.
//
// The first Enqueue of an idle group arms a single timer. Every request
// enrolled until the timer fires goes into the same fetch call, requests
// enrolled after that start a new batch.
type Group[K comparable, V any] struct {
	ctx context.Context

	name    string
	opt     *opt
	fetch   Fetcher[K, V]
	limiter *rate.Limiter
	log     *zap.Logger

	// registry and timer of the current batch, protected by mu
	pending    []pending[K, V]
	batchFetch Fetcher[K, V]
	timer      *time.Timer
	closed     bool
	mu         sync.Mutex

	// armed and flushing batches
	wg sync.WaitGroup
}

func (g *Group[K, V]) Name() string {
	return g.name
}

// Enqueue enrolls key in the current batch and returns its future. No I/O
// is done here. A nil fetch means the group fetch func.
//
// The batch is fetched with the fetch func of the request that armed the
// timer.
func (g *Group[K, V]) Enqueue(key K, fetch Fetcher[K, V]) *Future[V] {
	if g.ctx == nil {
		return failedFuture[V](ErrGroupNotInit)
	}

	if fetch == nil {
		fetch = g.fetch
	}

	if fetch == nil {
		return failedFuture[V](ErrNoFetcher)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return failedFuture[V](ErrClosed)
	}

	f := newFuture[V]()
	g.pending = append(g.pending, pending[K, V]{key: key, future: f})

	if g.timer == nil {
		g.batchFetch = fetch
		g.wg.Add(1)
		g.timer = time.AfterFunc(g.opt.Window, g.flush)
	}

	return f
}

// Load load data with key and return value and error
func (g *Group[K, V]) Load(ctx context.Context, key K) (V, error) {
	return g.Enqueue(key, nil).Wait(ctx)
}

// LoadMany load slice data and return value and error map
func (g *Group[K, V]) LoadMany(ctx context.Context, keys ...K) (map[K]V, map[K]error) {
	data := make(map[K]V, len(keys))
	errors := make(map[K]error, len(keys))

	if len(keys) == 0 {
		return data, errors
	}

	// remove double
	keys = uniqueKeys(keys)

	futures := make([]*Future[V], 0, len(keys))
	for _, key := range keys {
		futures = append(futures, g.Enqueue(key, nil))
	}

	for i, f := range futures {
		select {
		case <-ctx.Done():
			// enrich the result with errors
			enrichErrors(keys, data, errors, ctx.Err())

			return data, errors

		case <-f.Done():
			v, err := f.Result()
			if err != nil {
				errors[keys[i]] = err
			} else {
				data[keys[i]] = v
			}
		}
	}

	return data, errors
}

// Close flushes the armed batch right away and waits for batches in
// flight. Enqueue on a closed group fails with ErrClosed.
func (g *Group[K, V]) Close() {
	if g.ctx == nil {
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.wg.Wait()

		return
	}

	g.closed = true

	var (
		batch []pending[K, V]
		fetch Fetcher[K, V]
	)

	// timer.Stop is false when flush already started, it owns the batch then
	stopped := g.timer != nil && g.timer.Stop()
	if stopped {
		batch, fetch = g.detach()
	}
	g.mu.Unlock()

	if stopped {
		g.process(batch, fetch)
		g.wg.Done()
	}

	g.wg.Wait()
}

func (g *Group[K, V]) flush() {
	defer g.wg.Done()

	g.mu.Lock()
	batch, fetch := g.detach()
	g.mu.Unlock()

	g.process(batch, fetch)
}

// detach takes the current batch and returns the group to idle.
// g.mu must be lock before
func (g *Group[K, V]) detach() ([]pending[K, V], Fetcher[K, V]) {
	batch, fetch := g.pending, g.batchFetch

	g.pending = nil
	g.batchFetch = nil
	g.timer = nil

	return batch, fetch
}

// process calls fetch once for the unique keys of batch and completes every
// future of the batch.
func (g *Group[K, V]) process(batch []pending[K, V], fetch Fetcher[K, V]) {
	if len(batch) == 0 {
		return
	}

	keys := make([]K, 0, len(batch))
	for _, item := range batch {
		keys = append(keys, item.key)
	}
	keys = uniqueKeys(keys)

	start := time.Now()
	values, err := g.call(fetch, keys)
	if err != nil {
		for _, item := range batch {
			item.future.reject(err)
		}

		g.log.Debug("batch failed",
			zap.Int("requests", len(batch)),
			zap.Int("keys", len(keys)),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)

		return
	}

	for _, item := range batch {
		v, ok := values[item.key]
		if !ok {
			item.future.reject(&NotFoundError{Group: g.name, Key: item.key})
			continue
		}

		item.future.resolve(v)
	}

	g.log.Debug("batch flushed",
		zap.Int("requests", len(batch)),
		zap.Int("keys", len(keys)),
		zap.Int("found", len(values)),
		zap.Duration("took", time.Since(start)),
	)
}

func (g *Group[K, V]) call(fetch Fetcher[K, V], keys []K) (map[K]V, error) {
	ctx := g.ctx
	if g.opt.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opt.FetchTimeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	values, err := safeFetch(ctx, fetch, keys)
	if errors.Is(err, ErrPanicRecover) {
		g.log.Warn("fetch func panic", zap.Int("keys", len(keys)), zap.Error(err))
	}

	return values, err
}
