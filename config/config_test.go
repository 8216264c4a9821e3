package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvAllowedDirs, "")
	t.Setenv(EnvEnableWrites, "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultMaxConcurrentRequests, cfg.Limits.MaxConcurrentRequests)
	require.Equal(t, DefaultOperationTimeout, cfg.Limits.OperationTimeout.Duration)
	require.Equal(t, DefaultXAxis, cfg.Analysis.XAxis)
	require.False(t, cfg.Security.EnableWrites)
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factor.toml")
	body := `
[security]
allowed_dirs = ["/data/a"]

[limits]
max_open_datasets = 5
operation_timeout = "15s"

[analysis]
x_axis = "Channel"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv(EnvAllowedDirs, "/data/b"+string(os.PathListSeparator)+"/data/c")
	t.Setenv(EnvEnableWrites, "yes")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/data/b", "/data/c"}, cfg.Security.AllowedDirs)
	require.True(t, cfg.Security.EnableWrites)
	require.Equal(t, 5, cfg.Limits.MaxOpenDatasets)
	require.Equal(t, 15*time.Second, cfg.Limits.OperationTimeout.Duration)
	require.Equal(t, "Channel", cfg.Analysis.XAxis)
	require.Equal(t, DefaultYAxis, cfg.Analysis.YAxis)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[limits]\noperation_timeout = \"soon\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_PeriodLongerThanWindow(t *testing.T) {
	cfg := Default()
	cfg.Analysis.PeriodMonths = 7
	require.Error(t, cfg.Validate())
}

func TestValidate_Axes(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Analysis.XAxis = "Region"
	require.ErrorContains(t, cfg.Validate(), "analysis.x_axis")

	cfg.Analysis.XAxis = "branch"
	cfg.Analysis.YAxis = "Branch"
	require.ErrorContains(t, cfg.Validate(), "both Branch")

	cfg.Analysis.XAxis = " channel "
	require.NoError(t, cfg.Validate())
}

func TestLoad_RejectsSameAxes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "axes.toml")
	require.NoError(t, os.WriteFile(path, []byte("[analysis]\nx_axis = \"Mark\"\ny_axis = \"mark\"\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "analysis.x_axis and analysis.y_axis")
}
