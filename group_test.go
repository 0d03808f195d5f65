package coalescer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type user struct {
	ID   string
	Name string
}

type recorder struct {
	calls [][]string
	mu    sync.Mutex
}

func (r *recorder) record(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, append([]string(nil), keys...))
}

func (r *recorder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]string(nil), r.calls...)
}

func usersFetcher(rec *recorder, known map[string]user) Fetcher[string, user] {
	return func(ctx context.Context, keys []string) (map[string]user, error) {
		rec.record(keys)

		result := make(map[string]user, len(keys))
		for _, key := range keys {
			if u, ok := known[key]; ok {
				result[key] = u
			}
		}

		return result, nil
	}
}

func everyoneFetcher(rec *recorder) Fetcher[string, user] {
	return func(ctx context.Context, keys []string) (map[string]user, error) {
		rec.record(keys)

		result := make(map[string]user, len(keys))
		for _, key := range keys {
			result[key] = user{ID: key, Name: "user " + key}
		}

		return result, nil
	}
}

func testGroup[K comparable, V any](t *testing.T, fetch Fetcher[K, V], opts ...Option) *Group[K, V] {
	t.Helper()

	g := NewGroup("users", fetch, opts...)
	t.Cleanup(g.Close)

	return g
}

var (
	userA = user{ID: "A", Name: "Alice"}
	userB = user{ID: "B", Name: "Bob"}
)

func TestGroup_MissingKeyRejectsOnlyItsRequest(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, usersFetcher(rec, map[string]user{"A": userA}))

	fa := g.Enqueue("A", nil)
	time.Sleep(10 * time.Millisecond)
	fb := g.Enqueue("B", nil)

	a, err := fa.Result()
	require.NoError(t, err)
	assert.Equal(t, userA, a)

	b, err := fb.Result()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, b)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "users", nf.Group)
	assert.Equal(t, "B", nf.Key)

	assert.Equal(t, [][]string{{"A", "B"}}, rec.Calls())
}

func TestGroup_DuplicateKeysFanOut(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, usersFetcher(rec, map[string]user{"A": userA}))

	f1 := g.Enqueue("A", nil)
	f2 := g.Enqueue("A", nil)

	v1, err1 := f1.Result()
	v2, err2 := f2.Result()

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, userA, v1)
	assert.Equal(t, userA, v2)
	assert.Equal(t, [][]string{{"A"}}, rec.Calls())
}

func TestGroup_FetchErrorFailsWholeBatch(t *testing.T) {
	errDown := errors.New("users backend unavailable")

	var calls int
	var mu sync.Mutex
	g := testGroup(t, func(ctx context.Context, keys []string) (map[string]user, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		return nil, errDown
	})

	futures := []*Future[user]{
		g.Enqueue("A", nil),
		g.Enqueue("B", nil),
		g.Enqueue("A", nil),
	}

	for _, f := range futures {
		v, err := f.Result()
		assert.ErrorIs(t, err, errDown)
		assert.Empty(t, v)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestGroup_NewBatchAfterFlush(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, everyoneFetcher(rec), Window(5*time.Millisecond))

	ctx := context.Background()

	a, err := g.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", a.ID)

	b, err := g.Load(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", b.ID)

	assert.Equal(t, [][]string{{"A"}, {"B"}}, rec.Calls())
}

func TestGroup_EnqueueWhileFlushingStartsNewBatch(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	all := everyoneFetcher(rec)
	g := testGroup(t, func(ctx context.Context, keys []string) (map[string]user, error) {
		if keys[0] == "A" {
			started <- struct{}{}
			<-release
		}

		return all(ctx, keys)
	}, Window(5*time.Millisecond))

	fa := g.Enqueue("A", nil)
	<-started

	fc := g.Enqueue("C", nil)
	close(release)

	_, err := fa.Result()
	require.NoError(t, err)

	c, err := fc.Result()
	require.NoError(t, err)
	assert.Equal(t, "C", c.ID)

	assert.Equal(t, [][]string{{"A"}, {"C"}}, sortedCalls(rec.Calls()))
}

func TestGroup_WindowDelaysFlush(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, everyoneFetcher(rec))

	start := time.Now()
	_, err := g.Load(context.Background(), "A")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), DefaultWindow)
}

func TestGroup_ArmingFetcherServesBatch(t *testing.T) {
	recA, recB := &recorder{}, &recorder{}
	g := testGroup[string, user](t, nil)

	fa := g.Enqueue("A", everyoneFetcher(recA))
	fb := g.Enqueue("B", everyoneFetcher(recB))

	_, errA := fa.Result()
	_, errB := fb.Result()
	assert.NoError(t, errA)
	assert.NoError(t, errB)

	assert.Equal(t, [][]string{{"A", "B"}}, recA.Calls())
	assert.Empty(t, recB.Calls())
}

func TestGroup_NoFetcher(t *testing.T) {
	g := testGroup[string, user](t, nil)

	_, err := g.Load(context.Background(), "A")
	assert.ErrorIs(t, err, ErrNoFetcher)
}

func TestGroup_PanicRecover(t *testing.T) {
	g := testGroup(t, func(ctx context.Context, keys []string) (map[string]user, error) {
		panic(123)
	}, Window(time.Millisecond))

	item, err := g.Load(context.Background(), "A")
	assert.ErrorIs(t, err, ErrPanicRecover)
	assert.Empty(t, item)
}

func TestGroup_FetchTimeout(t *testing.T) {
	g := testGroup(t, func(ctx context.Context, keys []string) (map[string]user, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Window(time.Millisecond), FetchTimeout(10*time.Millisecond))

	_, err := g.Load(context.Background(), "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGroup_FetchLimit(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, everyoneFetcher(rec), Window(time.Millisecond), FetchLimit(rate.Every(100*time.Millisecond), 1))

	ctx := context.Background()
	_, err := g.Load(ctx, "A")
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Load(ctx, "B")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, rec.Calls(), 2)
}

func TestGroup_WaitContextDoesNotWithdraw(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, everyoneFetcher(rec), Window(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := g.Enqueue("A", nil)
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "A", v.ID)
	assert.Equal(t, [][]string{{"A"}}, rec.Calls())
}

func TestGroup_LoadMany(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, usersFetcher(rec, map[string]user{"A": userA, "B": userB}))

	items, errs := g.LoadMany(context.Background(), "A", "A", "B", "X")

	assert.Equal(t, map[string]user{"A": userA, "B": userB}, items)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs["X"], ErrNotFound)
	assert.Equal(t, [][]string{{"A", "B", "X"}}, rec.Calls())
}

func TestGroup_LoadManyContextDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	g := testGroup(t, func(ctx context.Context, keys []string) (map[string]user, error) {
		<-release
		return map[string]user{}, nil
	}, Window(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	items, errs := g.LoadMany(ctx, "A", "B")
	assert.Empty(t, items)
	assert.Len(t, errs, 2)
	for _, key := range []string{"A", "B"} {
		assert.ErrorIs(t, errs[key], context.DeadlineExceeded)
	}
}

func TestGroup_CloseFlushesArmedBatch(t *testing.T) {
	rec := &recorder{}
	g := NewGroup("users", everyoneFetcher(rec), Window(time.Hour))

	f := g.Enqueue("A", nil)
	g.Close()

	select {
	case <-f.Done():
	default:
		t.Fatal("armed batch not flushed on close")
	}

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "A", v.ID)

	_, err = g.Load(context.Background(), "B")
	assert.ErrorIs(t, err, ErrClosed)

	g.Close()
	assert.Equal(t, [][]string{{"A"}}, rec.Calls())
}

func TestGroup_CloseWaitsForFlush(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	g := NewGroup("users", func(ctx context.Context, keys []string) (map[string]user, error) {
		close(started)
		<-release
		return map[string]user{"A": userA}, nil
	}, Window(time.Millisecond))

	f := g.Enqueue("A", nil)
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	g.Close()

	select {
	case <-f.Done():
	default:
		t.Fatal("close returned before flush completed")
	}
}

func TestGroup_NotInit(t *testing.T) {
	g := &Group[string, string]{}

	ctx := context.Background()
	var1, err1 := g.Load(ctx, "key1")
	assert.ErrorIs(t, err1, ErrGroupNotInit)
	assert.Empty(t, var1)

	var2, err2 := g.LoadMany(ctx, "key1", "key2")
	for _, key := range []string{"key1", "key2"} {
		assert.ErrorIs(t, err2[key], ErrGroupNotInit)
	}
	assert.Empty(t, var2)

	g.Close()
	assert.False(t, g.closed)
	assert.Len(t, g.pending, 0)
}

func TestGroup_ConcurrentEnqueue(t *testing.T) {
	rec := &recorder{}
	g := testGroup(t, everyoneFetcher(rec), Window(2*time.Millisecond))

	const n = 200

	var eg errgroup.Group
	for i := 0; i < n; i++ {
		key := strconv.Itoa(i % (n / 2))
		eg.Go(func() error {
			v, err := g.Load(context.Background(), key)
			if err != nil {
				return err
			}
			if v.ID != key {
				return fmt.Errorf("key %s: got value for %s", key, v.ID)
			}

			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// keys are unique inside a batch, a key shows up again only in a later one
	perBatch := make(map[string]int)
	for _, keys := range rec.Calls() {
		for _, key := range keys {
			perBatch[key]++
		}

		assert.Equal(t, len(keys), len(uniqueKeys(keys)))
	}
	assert.Len(t, perBatch, n/2)
}

func sortedCalls(calls [][]string) [][]string {
	sort.Slice(calls, func(i, j int) bool {
		return len(calls[i]) > 0 && len(calls[j]) > 0 && calls[i][0] < calls[j][0]
	})

	return calls
}
