package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/nervozny/factor/config"
	"github.com/nervozny/factor/internal/dataset"
	"github.com/nervozny/factor/internal/factor"
	"github.com/nervozny/factor/internal/registry"
	"github.com/nervozny/factor/internal/runtime"
	"github.com/nervozny/factor/internal/security"
	"github.com/nervozny/factor/internal/telemetry"
	"github.com/nervozny/factor/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		useStdio        bool
		configPath      string
		envFile         string
		modelName       string
		debug           bool
		shutdownTimeout time.Duration
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.StringVar(&configPath, "config", "", "Path to a TOML config file (defaults to $"+config.EnvConfigPath+")")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	flag.StringVar(&modelName, "model", "gpt-4o", "Client model name used to size text summaries")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	// stdout carries the MCP stream; logs go to stderr.
	logger := zlog.Output(os.Stderr).With().Str("service", version.Name).Logger()
	ctx := logger.WithContext(context.Background())

	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("env_file", envFile).Msg("dotenv file ignored")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("config: failed to load")
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManager(cfg.Security.AllowedDirs, nil)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set "+config.EnvAllowedDirs)
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set "+config.EnvAllowedDirs)
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Bool("writes", cfg.Security.EnableWrites).Msg("security allow-list configured")

	limits := runtime.LimitsFromConfig(cfg.Limits)
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController, logger)

	datasets := dataset.NewCache(cfg.Limits.DatasetIdleTTL.Duration, cfg.Limits.DatasetCleanupPeriod.Duration, runtimeController, time.Now)
	datasets.SetValidator(secMgr)
	datasets.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := datasets.Close(sctx); err != nil {
			logger.Warn().Err(err).Msg("dataset manager shutdown incomplete")
		}
	}()

	toolRegistry := registry.New()
	summaryChars := toolRegistry.UseModelBudget(modelName)
	writeFilter := registry.NewWriteToolFilter(cfg.Security.EnableWrites)

	srv := server.NewMCPServer(
		version.Name,
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(telemetry.NewServerHooks(logger)),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return writeFilter.FilterTools(ctx, tools) }),
	)

	registry.RegisterFactorTools(srv, toolRegistry, &registry.FactorTools{
		Limits:       limits,
		Datasets:     datasets,
		Engine:       factor.NewEngine(cfg.Analysis.MonthsBackward, cfg.Analysis.PeriodMonths),
		SavePaths:    secMgr,
		AllowWrites:  writeFilter.AllowsWrites(),
		XAxis:        cfg.Analysis.XAxis,
		YAxis:        cfg.Analysis.YAxis,
		SummaryLimit: summaryChars,
	})

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_datasets", limits.MaxOpenDatasets).
		Int("summary_chars", summaryChars).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if !useStdio {
		// If no transport flags provided, print usage and exit non-zero
		fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
		os.Exit(2)
	}

	if err := server.ServeStdio(srv); err != nil {
		// Use stderr for transport errors so clients don't misinterpret output
		logger.Error().Err(err).Msg("stdio transport stopped")
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
