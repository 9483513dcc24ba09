// ABOUTME: Tests for the cooldown-gated directory refresher
// ABOUTME: Covers cooldown deferral with trailing refresh, shared fetches and failures

package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/desk"
)

type countingFetcher struct {
	calls  atomic.Int32
	mu     sync.Mutex
	groups []desk.Group
	err    error
	block  chan struct{}
}

func (f *countingFetcher) fetch(ctx context.Context) ([]desk.Group, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups, f.err
}

type errNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *errNotifier) ReportError(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func TestRefresher_PopulatesDirectory(t *testing.T) {
	dir := New(nil)
	f := &countingFetcher{groups: []desk.Group{{Session: sess("g1", ""), Department: "Sales"}}}
	r := NewRefresher(dir, f.fetch, time.Second, nil, nil, nil)
	defer r.Close()

	ok, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{All, "Sales"}, dir.Departments())
}

func TestRefresher_CooldownDefersToOneTrailingRefresh(t *testing.T) {
	dir := New(nil)
	f := &countingFetcher{}
	r := NewRefresher(dir, f.fetch, 50*time.Millisecond, nil, nil, nil)
	defer r.Close()

	ok, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		ok, err = r.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, ok, "refresh inside the cooldown must not fetch")
	}
	assert.Equal(t, int32(1), f.calls.Load())

	assert.Eventually(t, func() bool { return f.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return f.calls.Load() > 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestRefresher_ConcurrentCallsShareFetch(t *testing.T) {
	dir := New(nil)
	f := &countingFetcher{block: make(chan struct{})}
	r := NewRefresher(dir, f.fetch, 0, nil, nil, nil)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Refresh(context.Background())
		}()
	}

	assert.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.block)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestRefresher_FailureKeepsDirectory(t *testing.T) {
	dir := New(nil)
	dir.Populate([]desk.Group{{Session: sess("g1", ""), Department: "Sales"}})
	notifier := &errNotifier{}
	f := &countingFetcher{err: errors.New("503")}
	r := NewRefresher(dir, f.fetch, 0, notifier, nil, nil)
	defer r.Close()

	ok, err := r.Refresh(context.Background())

	assert.False(t, ok)
	assert.True(t, errors.Is(err, desk.ErrNetwork))
	assert.Equal(t, 1, dir.Count(All))
	assert.Len(t, notifier.msgs, 1)
}

func TestRefresher_CloseCancelsTrailing(t *testing.T) {
	dir := New(nil)
	f := &countingFetcher{}
	r := NewRefresher(dir, f.fetch, 40*time.Millisecond, nil, nil, nil)

	_, _ = r.Refresh(context.Background())
	_, _ = r.Refresh(context.Background())
	r.Close()

	assert.Never(t, func() bool { return f.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	ok, err := r.Refresh(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}
