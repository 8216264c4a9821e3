package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/nervozny/factor/config"
	"github.com/stretchr/testify/require"
)

func TestControllerAcquireRelease(t *testing.T) {
	limits := NewLimits(1, 1)
	controller := NewController(limits)

	require.Equal(t, limits, controller.LimitsSnapshot())

	require.NoError(t, controller.AcquireRequest(context.Background()))
	controller.ReleaseRequest()

	require.NoError(t, controller.AcquireDataset(context.Background()))
	require.ErrorIs(t, controller.AcquireDataset(context.Background()), ErrDatasetLimit)
	controller.ReleaseDataset()
	require.NoError(t, controller.AcquireDataset(context.Background()))
	controller.ReleaseDataset()
}

func TestAcquireDataset_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewController(NewLimits(1, 1)).AcquireDataset(ctx), context.Canceled)
}

func TestLimitsFromConfig(t *testing.T) {
	l := LimitsFromConfig(config.LimitsConfig{
		MaxConcurrentRequests: 4,
		RecordPageSize:        25,
		OperationTimeout:      config.Duration{Duration: 5 * time.Second},
	})
	require.Equal(t, 4, l.MaxConcurrentRequests)
	require.Equal(t, config.DefaultMaxOpenDatasets, l.MaxOpenDatasets)
	require.Equal(t, 25, l.RecordPageSize)
	require.Equal(t, config.DefaultMaxPageSize, l.MaxPageSize)
	require.Equal(t, 5*time.Second, l.OperationTimeout)
	require.Equal(t, config.DefaultAcquireRequestTimeout, l.AcquireRequestTimeout)
}

func TestClampPageSize(t *testing.T) {
	l := NewLimits(1, 1)
	l.RecordPageSize, l.MaxPageSize = 50, 100
	require.Equal(t, 50, l.ClampPageSize(0))
	require.Equal(t, 30, l.ClampPageSize(30))
	require.Equal(t, 100, l.ClampPageSize(500))
}
