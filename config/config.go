package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the effective server configuration after file and environment overlays.
type Config struct {
	Security SecurityConfig `toml:"security"`
	Limits   LimitsConfig   `toml:"limits"`
	Analysis AnalysisConfig `toml:"analysis"`
}

// SecurityConfig controls filesystem access and write tool exposure.
type SecurityConfig struct {
	AllowedDirs  []string `toml:"allowed_dirs"`
	EnableWrites bool     `toml:"enable_writes"`
}

// LimitsConfig bounds concurrency, paging and timeouts.
type LimitsConfig struct {
	MaxConcurrentRequests int      `toml:"max_concurrent_requests"`
	MaxOpenDatasets       int      `toml:"max_open_datasets"`
	RecordPageSize        int      `toml:"record_page_size"`
	MaxPageSize           int      `toml:"max_page_size"`
	OperationTimeout      Duration `toml:"operation_timeout"`
	AcquireRequestTimeout Duration `toml:"acquire_request_timeout"`
	DatasetIdleTTL        Duration `toml:"dataset_idle_ttl"`
	DatasetCleanupPeriod  Duration `toml:"dataset_cleanup_period"`
}

// Duration decodes TOML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// AnalysisConfig holds defaults applied when a query omits them.
type AnalysisConfig struct {
	MonthsBackward int    `toml:"months_backward"`
	PeriodMonths   int    `toml:"period_months"`
	XAxis          string `toml:"x_axis"`
	YAxis          string `toml:"y_axis"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Limits: LimitsConfig{
			MaxConcurrentRequests: DefaultMaxConcurrentRequests,
			MaxOpenDatasets:       DefaultMaxOpenDatasets,
			RecordPageSize:        DefaultRecordPageSize,
			MaxPageSize:           DefaultMaxPageSize,
			OperationTimeout:      Duration{DefaultOperationTimeout},
			AcquireRequestTimeout: Duration{DefaultAcquireRequestTimeout},
			DatasetIdleTTL:        Duration{DefaultDatasetIdleTTL},
			DatasetCleanupPeriod:  Duration{DefaultDatasetCleanupPeriod},
		},
		Analysis: AnalysisConfig{
			MonthsBackward: DefaultMonthsBackward,
			PeriodMonths:   DefaultPeriodMonths,
			XAxis:          DefaultXAxis,
			YAxis:          DefaultYAxis,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and the environment.
// An empty path falls back to MCPFACTOR_CONFIG; a missing file at an explicit path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if list := os.Getenv(EnvAllowedDirs); list != "" {
		cfg.Security.AllowedDirs = filepath.SplitList(list)
	}
	if v, ok := os.LookupEnv(EnvEnableWrites); ok {
		cfg.Security.EnableWrites = parseBool(v)
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be corrected by defaulting.
func (c Config) Validate() error {
	if c.Analysis.PeriodMonths > c.Analysis.MonthsBackward {
		return errors.New("config: period_months must not exceed months_backward")
	}
	if c.Limits.RecordPageSize > c.Limits.MaxPageSize {
		return errors.New("config: record_page_size must not exceed max_page_size")
	}
	x, err := canonicalAxis(c.Analysis.XAxis)
	if err != nil {
		return fmt.Errorf("config: analysis.x_axis: %w", err)
	}
	y, err := canonicalAxis(c.Analysis.YAxis)
	if err != nil {
		return fmt.Errorf("config: analysis.y_axis: %w", err)
	}
	if x == y {
		return fmt.Errorf("config: analysis.x_axis and analysis.y_axis are both %s", x)
	}
	return nil
}

func canonicalAxis(name string) (string, error) {
	n := strings.TrimSpace(name)
	for _, a := range PivotAxes {
		if strings.EqualFold(a, n) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown axis %q (want one of %s)", name, strings.Join(PivotAxes, ", "))
}

func (c *Config) fillDefaults() {
	d := Default()
	l := &c.Limits
	if l.MaxConcurrentRequests <= 0 {
		l.MaxConcurrentRequests = d.Limits.MaxConcurrentRequests
	}
	if l.MaxOpenDatasets <= 0 {
		l.MaxOpenDatasets = d.Limits.MaxOpenDatasets
	}
	if l.RecordPageSize <= 0 {
		l.RecordPageSize = d.Limits.RecordPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = d.Limits.MaxPageSize
	}
	if l.OperationTimeout.Duration <= 0 {
		l.OperationTimeout = d.Limits.OperationTimeout
	}
	if l.AcquireRequestTimeout.Duration <= 0 {
		l.AcquireRequestTimeout = d.Limits.AcquireRequestTimeout
	}
	if l.DatasetIdleTTL.Duration <= 0 {
		l.DatasetIdleTTL = d.Limits.DatasetIdleTTL
	}
	if l.DatasetCleanupPeriod.Duration <= 0 {
		l.DatasetCleanupPeriod = d.Limits.DatasetCleanupPeriod
	}

	a := &c.Analysis
	if a.MonthsBackward <= 0 {
		a.MonthsBackward = d.Analysis.MonthsBackward
	}
	if a.PeriodMonths <= 0 {
		a.PeriodMonths = d.Analysis.PeriodMonths
	}
	if strings.TrimSpace(a.XAxis) == "" {
		a.XAxis = d.Analysis.XAxis
	}
	if strings.TrimSpace(a.YAxis) == "" {
		a.YAxis = d.Analysis.YAxis
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}
