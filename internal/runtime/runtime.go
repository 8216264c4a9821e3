package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/nervozny/factor/config"
	"golang.org/x/sync/semaphore"
)

// ErrDatasetLimit is returned when every open dataset slot is taken.
var ErrDatasetLimit = errors.New("runtime: open dataset limit reached")

// Limits captures the concurrency and paging guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxOpenDatasets       int

	// Record paging
	RecordPageSize int
	MaxPageSize    int

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentRequests, maxOpenDatasets int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenDatasets <= 0 {
		maxOpenDatasets = config.DefaultMaxOpenDatasets
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxOpenDatasets:       maxOpenDatasets,
		RecordPageSize:        config.DefaultRecordPageSize,
		MaxPageSize:           config.DefaultMaxPageSize,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
	}
}

// LimitsFromConfig maps the loaded limits section onto Limits.
func LimitsFromConfig(c config.LimitsConfig) Limits {
	l := NewLimits(c.MaxConcurrentRequests, c.MaxOpenDatasets)
	if c.RecordPageSize > 0 {
		l.RecordPageSize = c.RecordPageSize
	}
	if c.MaxPageSize > 0 {
		l.MaxPageSize = c.MaxPageSize
	}
	if c.OperationTimeout.Duration > 0 {
		l.OperationTimeout = c.OperationTimeout.Duration
	}
	if c.AcquireRequestTimeout.Duration > 0 {
		l.AcquireRequestTimeout = c.AcquireRequestTimeout.Duration
	}
	return l
}

// ClampPageSize bounds a requested page size, falling back to the default when unset.
func (l Limits) ClampPageSize(n int) int {
	if n <= 0 {
		return l.RecordPageSize
	}
	if l.MaxPageSize > 0 && n > l.MaxPageSize {
		return l.MaxPageSize
	}
	return n
}

// Controller coordinates runtime semaphores for request and dataset guardrails.
type Controller struct {
	limits           Limits
	requestSemaphore *semaphore.Weighted
	datasetSemaphore *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:           limits,
		requestSemaphore: semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		datasetSemaphore: semaphore.NewWeighted(int64(limits.MaxOpenDatasets)),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireDataset reserves an open dataset slot without waiting.
func (c *Controller) AcquireDataset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.datasetSemaphore.TryAcquire(1) {
		return ErrDatasetLimit
	}
	return nil
}

// ReleaseDataset frees an open dataset slot.
func (c *Controller) ReleaseDataset() {
	c.datasetSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
