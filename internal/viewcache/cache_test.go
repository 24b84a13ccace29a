package viewcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"schemedesk/api/internal/changefeed"
	"schemedesk/api/internal/record"
)

type fakeSource struct {
	hub *changefeed.Hub

	mu      sync.Mutex
	fetchFn func(ctx context.Context) ([]record.Raw, error)
	fetches int
}

func newFakeSource(rows ...record.Raw) *fakeSource {
	return &fakeSource{
		hub: changefeed.NewHub(),
		fetchFn: func(context.Context) ([]record.Raw, error) {
			return rows, nil
		},
	}
}

func (f *fakeSource) FetchAll(ctx context.Context) ([]record.Raw, error) {
	f.mu.Lock()
	f.fetches++
	fn := f.fetchFn
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeSource) SubscribeToChanges(fn func()) func() {
	return f.hub.Subscribe(fn)
}

func (f *fakeSource) setRows(rows ...record.Raw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFn = func(context.Context) ([]record.Raw, error) { return rows, nil }
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newCache(src Source) *Cache {
	return New(src, record.NewNormalizer(record.CurrentSchema), nil)
}

func TestRefetchClearsAnalyzingFlag(t *testing.T) {
	src := newFakeSource(record.Raw{"id": "a", "title": "Q4 Audit", "status": "Pending"})
	c := newCache(src)
	require.NoError(t, c.Refresh(context.Background()))

	require.True(t, c.MarkAnalyzing("a"))
	r, _ := c.Get("a")
	require.True(t, r.IsAnalyzing)
	assert.Equal(t, Provisional, c.State("a"))

	// The analysis call is still in flight; a refetch lands anyway.
	require.NoError(t, c.Refresh(context.Background()))

	r, ok := c.Get("a")
	require.True(t, ok)
	assert.False(t, r.IsAnalyzing)
	assert.Equal(t, Clean, c.State("a"))

	// The late failure path clearing the flag is harmless.
	assert.True(t, c.ClearAnalyzing("a"))
	assert.Equal(t, Clean, c.State("a"))
}

func TestReplaceDropsFlagsFromIncomingRecords(t *testing.T) {
	c := newCache(newFakeSource())
	require.True(t, c.Replace(c.NextToken(), []record.Record{{ID: "a", IsAnalyzing: true}}))

	r, _ := c.Get("a")
	assert.False(t, r.IsAnalyzing)
}

func TestStaleRefetchDoesNotOverwriteNewer(t *testing.T) {
	src := newFakeSource()
	c := newCache(src)

	entered := make(chan struct{})
	release := make(chan struct{})
	src.mu.Lock()
	src.fetchFn = func(context.Context) ([]record.Raw, error) {
		close(entered)
		<-release
		return []record.Raw{{"id": "old", "title": "started first"}}, nil
	}
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-entered

	src.setRows(record.Raw{"id": "new", "title": "started second"})
	require.NoError(t, c.Refresh(context.Background()))

	close(release)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "new", snap[0].ID)
	assert.Equal(t, 2, src.fetchCount())
}

func TestReplaceTokenGuard(t *testing.T) {
	c := newCache(newFakeSource())
	first := c.NextToken()
	second := c.NextToken()

	assert.True(t, c.Replace(second, []record.Record{{ID: "b"}}))
	assert.False(t, c.Replace(first, []record.Record{{ID: "a"}}))
	assert.False(t, c.Replace(second, []record.Record{{ID: "a"}}))

	_, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, Absent, c.State("a"))
}

func TestRefreshFailureKeepsCollection(t *testing.T) {
	src := newFakeSource(record.Raw{"id": "a"})
	c := newCache(src)
	require.NoError(t, c.Refresh(context.Background()))

	boom := errors.New("store down")
	src.mu.Lock()
	src.fetchFn = func(context.Context) ([]record.Raw, error) { return nil, boom }
	src.mu.Unlock()

	assert.ErrorIs(t, c.Refresh(context.Background()), boom)
	assert.Len(t, c.Snapshot(), 1)
}

func TestRemoveLocalIsUndoneByRefetch(t *testing.T) {
	src := newFakeSource(record.Raw{"id": "a"}, record.Raw{"id": "b"})
	c := newCache(src)
	require.NoError(t, c.Refresh(context.Background()))

	require.True(t, c.RemoveLocal("a"))
	assert.Equal(t, Removed, c.State("a"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok, "index must follow the shifted slice")

	// The delete failed; the store still has the row.
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, Clean, c.State("a"))

	assert.False(t, c.RemoveLocal("missing"))
	assert.False(t, c.MarkAnalyzing("missing"))
}

func TestSnapshotIsACopy(t *testing.T) {
	c := newCache(newFakeSource(record.Raw{"id": "a", "title": "original"}))
	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Snapshot()
	snap[0].Title = "mutated"

	r, _ := c.Get("a")
	assert.Equal(t, "original", r.Title)
}

func TestWatchSeesEverySwap(t *testing.T) {
	c := newCache(newFakeSource(record.Raw{"id": "a"}))
	var changes []Change
	stop := c.Watch(func(ch Change) { changes = append(changes, ch) })

	require.NoError(t, c.Refresh(context.Background()))
	c.MarkAnalyzing("a")
	stop()
	require.NoError(t, c.Refresh(context.Background()))

	require.Len(t, changes, 2)
	assert.True(t, changes[0].Refetch)
	assert.False(t, changes[1].Refetch)
	assert.Less(t, changes[0].Generation, changes[1].Generation)
}

func TestAttachRefetchesOnChangeNotice(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource(record.Raw{"id": "a"})
	c := newCache(src)
	stop := c.Attach(context.Background())

	src.setRows(record.Raw{"id": "a"}, record.Raw{"id": "b"})
	src.hub.Notify()

	require.Eventually(t, func() bool {
		return len(c.Snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	stop()
	stop()
	assert.Zero(t, src.hub.Len())

	before := src.fetchCount()
	src.hub.Notify()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, src.fetchCount())
}
