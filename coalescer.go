package coalescer

import (
	"context"
	"fmt"
	"sync"
)

// New create new coalescer. opts are applied to every group it creates.
func New(opts ...Option) *Coalescer {
	return &Coalescer{
		opts:   opts,
		groups: make(map[string]closer),
	}
}

type closer interface {
	Close()
}

// Coalescer owns a set of named groups. Groups are created on first use and
// live until Close. Each group keeps its own key and value types.
type Coalescer struct {
	opts []Option

	groups map[string]closer
	closed bool
	mu     sync.Mutex
}

// GroupOf returns the group registered under name, creating it when needed.
// It fails with ErrGroupType if name is already used with other types.
func GroupOf[K comparable, V any](c *Coalescer, name string) (*Group[K, V], error) {
	if c == nil || c.groups == nil {
		return nil, ErrGroupNotInit
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if existing, ok := c.groups[name]; ok {
		g, ok := existing.(*Group[K, V])
		if !ok {
			return nil, fmt.Errorf("%w: %q is %T", ErrGroupType, name, existing)
		}

		return g, nil
	}

	g := NewGroup[K, V](name, nil, c.opts...)
	c.groups[name] = g

	return g, nil
}

// Enqueue enrolls key in the current batch of group. See Group.Enqueue.
func Enqueue[K comparable, V any](c *Coalescer, group string, key K, fetch Fetcher[K, V]) *Future[V] {
	g, err := GroupOf[K, V](c, group)
	if err != nil {
		return failedFuture[V](err)
	}

	return g.Enqueue(key, fetch)
}

// Load enqueues key and waits for its value.
func Load[K comparable, V any](ctx context.Context, c *Coalescer, group string, key K, fetch Fetcher[K, V]) (V, error) {
	return Enqueue(c, group, key, fetch).Wait(ctx)
}

// Close closes every group, see Group.Close.
func (c *Coalescer) Close() {
	if c == nil || c.groups == nil {
		return
	}

	c.mu.Lock()
	c.closed = true
	groups := make([]closer, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.Unlock()

	for _, g := range groups {
		g.Close()
	}
}
