package config

import "time"

// Default runtime limits and guardrails for the factor analysis server.
// They are referenced by internal/runtime and can be overridden through Load.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenDatasets       = 2

	// Record paging
	DefaultRecordPageSize = 50
	DefaultMaxPageSize    = 1000
)

const (
	// Timeouts
	DefaultOperationTimeout      = 60 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Dataset handle cache
	DefaultDatasetIdleTTL       = 30 * time.Minute
	DefaultDatasetCleanupPeriod = time.Minute
)

const (
	// Comparison window: base starts this many months before the current month,
	// and each period spans PeriodMonths full months.
	DefaultMonthsBackward = 6
	DefaultPeriodMonths   = 3

	DefaultXAxis = "Brand"
	DefaultYAxis = "Branch"
)

// PivotAxes are the axis names accepted for analysis.x_axis and analysis.y_axis.
// They mirror factor.Axes, which cannot be imported here.
var PivotAxes = []string{"Branch", "Channel", "Brand", "Group", "Mark", "Manager"}

// Environment variables recognised by Load.
const (
	EnvConfigPath   = "MCPFACTOR_CONFIG"
	EnvAllowedDirs  = "MCPFACTOR_ALLOWED_DIRS"
	EnvEnableWrites = "MCPFACTOR_ENABLE_WRITES"
)
