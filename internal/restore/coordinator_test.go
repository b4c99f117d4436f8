package restore

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/pkg-restore/internal/cache"
	"github.com/any-hub/pkg-restore/internal/fetch"
	"github.com/any-hub/pkg-restore/internal/identity"
	"github.com/any-hub/pkg-restore/internal/repotest"
)

var (
	idA = identity.Identity{Name: "PackageA", Version: "1.0.0"}
	idB = identity.Identity{Name: "PackageB", Version: "2.0.0"}
)

// stubFetcher 返回预置的制品，缺失的 identity 返回 404。
type stubFetcher struct {
	t         *testing.T
	mu        sync.Mutex
	artifacts map[identity.Identity][]byte
	calls     map[identity.Identity]int
	gate      chan struct{}
	total     atomic.Int32
}

func newStubFetcher(t *testing.T, ids ...identity.Identity) *stubFetcher {
	f := &stubFetcher{
		t:         t,
		artifacts: make(map[identity.Identity][]byte),
		calls:     make(map[identity.Identity]int),
	}
	for _, id := range ids {
		f.artifacts[id] = repotest.MustNupkg(t, map[string]string{"lib/net8.0/" + id.Name + ".dll": id.Version})
	}
	return f
}

func (f *stubFetcher) Fetch(ctx context.Context, id identity.Identity) ([]byte, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[id]++
	data, ok := f.artifacts[id]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &fetch.Error{Kind: fetch.KindNotFound, Status: 404, URL: "stub://" + id.String()}
	}
	return data, nil
}

func (f *stubFetcher) Calls(id identity.Identity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *stubFetcher) setArtifact(id identity.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[id] = repotest.MustNupkg(f.t, map[string]string{"lib/" + id.Name + ".dll": id.Version})
}

func newTestCoordinator(t *testing.T, fetcher Fetcher, locker Locker) (*Coordinator, cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), cache.Options{})
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := NewCoordinator(Options{Store: store, Fetcher: fetcher, Locker: locker, Logger: logger})
	require.NoError(t, err)
	return c, store
}

func TestRestoreIsIdempotent(t *testing.T) {
	fetcher := newStubFetcher(t, idA)
	c, store := newTestCoordinator(t, fetcher, nil)

	first := c.Restore(context.Background(), Job{Identity: idA, Manifest: "App.csproj"})
	require.Equal(t, OutcomeRestored, first.Kind, first.Reason)
	require.Equal(t, "App.csproj", first.Manifest)
	require.True(t, store.Exists(idA))

	second := c.Restore(context.Background(), Job{Identity: idA})
	require.Equal(t, OutcomeAlreadyPresent, second.Kind)
	require.Equal(t, 1, fetcher.Calls(idA))
	require.Equal(t, StatePresent, c.Table().Get(idA).State)
}

func TestRestoreConcurrentCallsFetchOnce(t *testing.T) {
	fetcher := newStubFetcher(t, idA)
	fetcher.gate = make(chan struct{})
	c, store := newTestCoordinator(t, fetcher, nil)

	const n = 16
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = c.Restore(context.Background(), Job{Identity: idA})
		}(i)
	}
	// 让认领者卡在 Fetch 中，直到其余调用全部观察到 InProgress 后再放行。
	require.Eventually(t, func() bool { return fetcher.total.Load() == 1 }, timeout, tick)
	close(fetcher.gate)
	wg.Wait()

	restored := 0
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeRestored:
			restored++
		case OutcomeSkipped, OutcomeAlreadyPresent:
		default:
			t.Fatalf("unexpected outcome %+v", o)
		}
	}
	require.Equal(t, 1, restored)
	require.Equal(t, 1, fetcher.Calls(idA))
	require.True(t, store.Exists(idA))
}

func TestRestoreFailureDoesNotAffectSiblings(t *testing.T) {
	fetcher := newStubFetcher(t, idB)
	c, store := newTestCoordinator(t, fetcher, nil)

	a := c.Restore(context.Background(), Job{Identity: idA})
	b := c.Restore(context.Background(), Job{Identity: idB})

	require.Equal(t, OutcomeFailed, a.Kind)
	require.Contains(t, a.Reason, "status 404")
	require.Equal(t, OutcomeRestored, b.Kind)
	require.False(t, store.Exists(idA))
	require.True(t, store.Exists(idB))

	st := c.Table().Get(idA)
	require.Equal(t, StateFailed, st.State)
	require.NotEmpty(t, st.Reason)
}

func TestFailedIdentityCanBeRetried(t *testing.T) {
	fetcher := newStubFetcher(t)
	c, store := newTestCoordinator(t, fetcher, nil)

	require.Equal(t, OutcomeFailed, c.Restore(context.Background(), Job{Identity: idA}).Kind)
	fetcher.setArtifact(idA)
	require.Equal(t, OutcomeRestored, c.Restore(context.Background(), Job{Identity: idA}).Kind)
	require.True(t, store.Exists(idA))
	require.Equal(t, 2, fetcher.Calls(idA))
}

func TestRestoreSkipsFetchWhenCacheAlreadyHasEntry(t *testing.T) {
	fetcher := newStubFetcher(t, idA)
	c, store := newTestCoordinator(t, fetcher, nil)
	require.NoError(t, store.Materialize(context.Background(), idA, repotest.MustNupkg(t, map[string]string{"a.txt": "a"}), cache.MaterializeOptions{}))

	o := c.Restore(context.Background(), Job{Identity: idA})
	require.Equal(t, OutcomeAlreadyPresent, o.Kind)
	require.Zero(t, fetcher.Calls(idA))
}

func TestCorruptArtifactIsRecordedAsFailure(t *testing.T) {
	fetcher := newStubFetcher(t)
	fetcher.artifacts[idA] = []byte("definitely not a zip")
	c, store := newTestCoordinator(t, fetcher, nil)

	o := c.Restore(context.Background(), Job{Identity: idA})
	require.Equal(t, OutcomeFailed, o.Kind)
	require.Contains(t, o.Reason, string(cache.KindCorruptArchive))
	require.False(t, store.Exists(idA))
}

type busyLocker struct{}

func (busyLocker) TryLock(identity.Identity) (func(), error) {
	return nil, ErrConcurrencyConflict
}

type brokenLocker struct{}

func (brokenLocker) TryLock(identity.Identity) (func(), error) {
	return nil, errors.New("lock dir unwritable")
}

func TestLockHeldElsewhereReleasesClaim(t *testing.T) {
	fetcher := newStubFetcher(t, idA)
	c, _ := newTestCoordinator(t, fetcher, busyLocker{})

	o := c.Restore(context.Background(), Job{Identity: idA})
	require.Equal(t, OutcomeSkipped, o.Kind)
	require.Zero(t, fetcher.Calls(idA))
	require.Equal(t, StateNotStarted, c.Table().Get(idA).State)
}

func TestLockErrorIsFailure(t *testing.T) {
	fetcher := newStubFetcher(t, idA)
	c, _ := newTestCoordinator(t, fetcher, brokenLocker{})

	o := c.Restore(context.Background(), Job{Identity: idA})
	require.Equal(t, OutcomeFailed, o.Kind)
	require.Contains(t, o.Reason, "lock dir unwritable")
}

func TestUnsafeIdentityFails(t *testing.T) {
	fetcher := newStubFetcher(t)
	c, _ := newTestCoordinator(t, fetcher, nil)

	o := c.Restore(context.Background(), Job{Identity: identity.Identity{Name: "..", Version: "1.0"}})
	require.Equal(t, OutcomeFailed, o.Kind)
	require.Zero(t, fetcher.total.Load())
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(Options{})
	require.Error(t, err)
}
