package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nervozny/factor/config"
)

// Handle pairs a loaded Dataset with metadata for idle TTL eviction.
type Handle struct {
	ID        string
	Path      string
	Dataset   *Dataset
	LoadedAt  time.Time
	ExpiresAt time.Time
	mu        sync.RWMutex
}

// Gate coordinates capacity for open dataset handles (backed by runtime.Controller).
type Gate interface {
	AcquireDataset(ctx context.Context) error
	ReleaseDataset()
}

// PathValidator abstracts filesystem path validation. Implementations return a
// canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// LoaderFunc builds a Dataset from a canonical path.
type LoaderFunc func(ctx context.Context, path string) (*Dataset, error)

// ErrHandleNotFound indicates an unknown or expired dataset handle.
var ErrHandleNotFound = errors.New("dataset: handle not found")

// ErrUnsupportedFormat indicates a path whose extension is not a workbook.
var ErrUnsupportedFormat = errors.New("dataset: unsupported format")

// Cache holds loaded datasets behind handle ids. Datasets are immutable once
// loaded, so any number of queries may read one concurrently.
type Cache struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	byPath       map[string]string
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         Gate
	validator    PathValidator
	load         LoaderFunc
	opening      singleflight.Group
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
}

// NewCache constructs a cache. Pass ttl or cleanupEvery <= 0 to use defaults from config.
// Gate can be nil for tests; clock defaults to time.Now when nil.
func NewCache(ttl, cleanupEvery time.Duration, gate Gate, clock func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = config.DefaultDatasetIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultDatasetCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		handles:      make(map[string]*Handle),
		byPath:       make(map[string]string),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		load:         LoadWorkbook,
		stopCh:       make(chan struct{}),
	}
}

// SetValidator installs the path validator used by Open.
func (m *Cache) SetValidator(v PathValidator) {
	m.validator = v
}

// SetLoader replaces the workbook loader.
func (m *Cache) SetLoader(fn LoaderFunc) {
	if fn != nil {
		m.load = fn
	}
}

// Start launches periodic eviction of expired handles.
func (m *Cache) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops all handles.
func (m *Cache) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.handles {
		delete(m.handles, id)
		m.release()
	}
	m.byPath = make(map[string]string)
	return nil
}

// Open loads the workbook at path and registers a handle for it.
// The cache enforces open-dataset capacity via the gate when provided.
func (m *Cache) Open(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx", ".xlsm":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	if m.validator != nil {
		canonical, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", err
		}
		path = canonical
	}

	if err := m.acquire(ctx); err != nil {
		return "", err
	}

	start := m.clock()
	ds, err := m.load(ctx, path)
	if err != nil {
		m.release()
		return "", err
	}

	id := uuid.NewString()
	h := m.newHandle(id, path, ds)
	m.mu.Lock()
	m.handles[id] = h
	m.byPath[path] = id
	m.mu.Unlock()

	zerolog.Ctx(ctx).Debug().
		Str("dataset_id", id).
		Str("path", path).
		Int("facts", len(ds.Facts)).
		Int("products", len(ds.Products)).
		Int("clients", len(ds.Clients)).
		Dur("duration", m.clock().Sub(start)).
		Msg("dataset loaded")
	return id, nil
}

// GetOrOpenByPath returns the handle already registered for path, or opens it.
func (m *Cache) GetOrOpenByPath(ctx context.Context, path string) (string, string, error) {
	canonical := path
	if m.validator != nil {
		c, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", "", err
		}
		canonical = c
	}
	if id, ok := m.lookupPath(canonical); ok {
		return id, canonical, nil
	}
	// Concurrent misses on one path share a single load.
	v, err, _ := m.opening.Do(canonical, func() (any, error) {
		if id, ok := m.lookupPath(canonical); ok {
			return id, nil
		}
		return m.Open(ctx, canonical)
	})
	if err != nil {
		return "", "", err
	}
	return v.(string), canonical, nil
}

// lookupPath returns the live handle registered for a canonical path.
func (m *Cache) lookupPath(canonical string) (string, bool) {
	m.mu.RLock()
	id, ok := m.byPath[canonical]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if _, alive := m.Get(id); !alive {
		return "", false
	}
	return id, true
}

// Adopt registers an already built Dataset. Intended for tests and embedding.
func (m *Cache) Adopt(ctx context.Context, ds *Dataset) (string, error) {
	if ds == nil {
		return "", fmt.Errorf("dataset: nil dataset")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	h := m.newHandle(id, ds.Source, ds)
	m.mu.Lock()
	m.handles[id] = h
	if ds.Source != "" {
		m.byPath[ds.Source] = id
	}
	m.mu.Unlock()
	return id, nil
}

// Get returns the handle when present and refreshes its TTL.
func (m *Cache) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// WithDataset runs fn against the dataset behind id.
func (m *Cache) WithDataset(id string, fn func(*Dataset) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.Dataset == nil {
		return ErrHandleNotFound
	}
	return fn(h.Dataset)
}

// CloseHandle removes a handle by id, releasing capacity via the gate.
func (m *Cache) CloseHandle(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
		if m.byPath[h.Path] == id {
			delete(m.byPath, h.Path)
		}
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	// Wait for in-flight readers before giving the slot back.
	h.mu.Lock()
	h.Dataset = nil
	h.mu.Unlock()
	m.release()
	zerolog.Ctx(ctx).Debug().Str("dataset_id", id).Msg("dataset closed")
	return nil
}

// EvictExpired drops handles idle past their TTL.
func (m *Cache) EvictExpired() {
	now := m.clock()
	var expired []*Handle

	m.mu.RLock()
	for _, h := range m.handles {
		if h.Expired(now) {
			expired = append(expired, h)
		}
	}
	m.mu.RUnlock()

	for _, h := range expired {
		h.mu.Lock()
		h.Dataset = nil
		h.mu.Unlock()

		m.mu.Lock()
		if _, ok := m.handles[h.ID]; ok {
			delete(m.handles, h.ID)
			if m.byPath[h.Path] == h.ID {
				delete(m.byPath, h.Path)
			}
			m.release()
		}
		m.mu.Unlock()
	}
}

// Count returns the current number of cached handles.
func (m *Cache) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Cache) newHandle(id, path string, ds *Dataset) *Handle {
	loadedAt := m.clock()
	return &Handle{
		ID:        id,
		Path:      path,
		Dataset:   ds,
		LoadedAt:  loadedAt,
		ExpiresAt: loadedAt.Add(m.ttl),
	}
}

func (m *Cache) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireDataset(ctx)
}

func (m *Cache) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseDataset()
}

// Expiry returns the current idle deadline.
func (h *Handle) Expiry() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ExpiresAt
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return now.After(h.ExpiresAt)
}
