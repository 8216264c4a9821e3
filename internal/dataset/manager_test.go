package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGate implements Gate for tests with counters.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireDataset(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseDataset() { g.releases.Add(1) }

func TestAdoptGetClose(t *testing.T) {
	gate := &fakeGate{}
	m := NewCache(2*time.Second, time.Second, gate, time.Now)

	id, err := m.Adopt(context.Background(), &Dataset{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, 1, m.Count())

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, id, h.ID)

	require.NoError(t, m.CloseHandle(context.Background(), id))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
	require.ErrorIs(t, m.CloseHandle(context.Background(), id), ErrHandleNotFound)
}

func TestTTLExpiryAndEviction(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewCache(50*time.Millisecond, 5*time.Millisecond, gate, clock)

	id, err := m.Adopt(context.Background(), &Dataset{})
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	now.Store(time.Unix(0, now.Load()).Add(200 * time.Millisecond).UnixNano())
	m.EvictExpired()

	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
	require.ErrorIs(t, m.WithDataset(id, func(*Dataset) error { return nil }), ErrHandleNotFound)
}

func TestGetRefreshesTTL(t *testing.T) {
	var now atomic.Int64
	start := time.Now()
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewCache(100*time.Millisecond, time.Second, nil, clock)
	id, err := m.Adopt(context.Background(), &Dataset{})
	require.NoError(t, err)

	now.Store(start.Add(80 * time.Millisecond).UnixNano())
	_, ok := m.Get(id)
	require.True(t, ok)

	now.Store(start.Add(150 * time.Millisecond).UnixNano())
	m.EvictExpired()
	require.Equal(t, 1, m.Count())
}

func TestWithDataset_PassesDataset(t *testing.T) {
	m := NewCache(time.Second, time.Second, nil, time.Now)
	ds := &Dataset{Facts: []SalesFact{{ProductID: 1}}}
	id, err := m.Adopt(context.Background(), ds)
	require.NoError(t, err)

	var seen int
	require.NoError(t, m.WithDataset(id, func(got *Dataset) error {
		seen = len(got.Facts)
		return nil
	}))
	require.Equal(t, 1, seen)
}

func TestOpen_UnsupportedFormatDoesNotAcquire(t *testing.T) {
	gate := &fakeGate{}
	m := NewCache(time.Second, time.Second, gate, time.Now)

	_, err := m.Open(context.Background(), "sales.csv")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Equal(t, int64(0), gate.acquires.Load())
}

func TestOpen_GateBusy(t *testing.T) {
	gate := &fakeGate{acquireErr: context.DeadlineExceeded}
	m := NewCache(time.Second, time.Second, gate, time.Now)

	_, err := m.Open(context.Background(), "sales.xlsx")
	require.Error(t, err)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(0), gate.releases.Load())
}

func TestOpen_LoaderFailureReleasesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewCache(time.Second, time.Second, gate, time.Now)
	m.SetLoader(func(context.Context, string) (*Dataset, error) { return nil, fmt.Errorf("corrupt") })

	_, err := m.Open(context.Background(), "sales.xlsx")
	require.Error(t, err)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())
	require.Equal(t, 0, m.Count())
}

type denyValidator struct{}

func (denyValidator) ValidateOpenPath(string) (string, error) { return "", fmt.Errorf("denied") }

func TestOpen_PathValidatorDenied(t *testing.T) {
	gate := &fakeGate{}
	m := NewCache(time.Second, time.Second, gate, time.Now)
	m.SetValidator(denyValidator{})

	_, err := m.Open(context.Background(), "ok.xlsx")
	require.Error(t, err)
	require.Equal(t, int64(0), gate.acquires.Load())
}

func TestGetOrOpenByPath_ReusesHandle(t *testing.T) {
	path := createDatasetWorkbook(t)
	var loads atomic.Int64
	m := NewCache(time.Minute, time.Minute, nil, time.Now)
	m.SetLoader(func(ctx context.Context, p string) (*Dataset, error) {
		loads.Add(1)
		return LoadWorkbook(ctx, p)
	})

	id1, canonical, err := m.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, path, canonical)
	id2, _, err := m.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, int64(1), loads.Load())

	require.NoError(t, m.CloseHandle(context.Background(), id1))
	id3, _, err := m.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
	require.Equal(t, int64(2), loads.Load())
}

func TestClose_ReleasesAll(t *testing.T) {
	gate := &fakeGate{}
	m := NewCache(time.Second, 10*time.Millisecond, gate, time.Now)
	m.Start()
	for i := 0; i < 3; i++ {
		_, err := m.Adopt(context.Background(), &Dataset{})
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(3), gate.releases.Load())
}

func TestGetOrOpenByPath_ConcurrentMissesShareOneLoad(t *testing.T) {
	gate := &fakeGate{}
	m := NewCache(time.Minute, time.Minute, gate, time.Now)
	release := make(chan struct{})
	var loads atomic.Int64
	m.SetLoader(func(ctx context.Context, p string) (*Dataset, error) {
		loads.Add(1)
		<-release
		return &Dataset{Source: p}, nil
	})

	const callers = 8
	path := filepath.Join(t.TempDir(), "sales.xlsx")
	ids := make(chan string, callers)
	errs := make(chan error, callers)
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			started.Done()
			id, _, err := m.GetOrOpenByPath(context.Background(), path)
			errs <- err
			ids <- id
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)

	first := ""
	for i := 0; i < callers; i++ {
		require.NoError(t, <-errs)
		id := <-ids
		if first == "" {
			first = id
		}
		require.Equal(t, first, id)
	}
	require.Equal(t, int64(1), loads.Load())
	require.Equal(t, 1, m.Count())
	require.Equal(t, int64(1), gate.acquires.Load())
}
