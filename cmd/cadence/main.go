package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/evanschultz/cadence/internal/adapters/reasoning/gemini"
	serveradapter "github.com/evanschultz/cadence/internal/adapters/server"
	servercommon "github.com/evanschultz/cadence/internal/adapters/server/common"
	"github.com/evanschultz/cadence/internal/adapters/storage/sqlite"
	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/config"
	"github.com/evanschultz/cadence/internal/domain"
	"github.com/evanschultz/cadence/internal/platform"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version is stamped at build time.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// newReasoner builds the external reasoning client; tests replace it.
var newReasoner = func(ctx context.Context, cfg gemini.Config, opts ...gemini.Option) (app.Reasoner, error) {
	return gemini.New(ctx, cfg, opts...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds global flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	jsonOut    bool
	actorID    string
}

// run builds the command tree and executes args against it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// newRootCommand wires global flags and every subcommand.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("CADENCE_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := "cadence"
	if envApp := strings.TrimSpace(os.Getenv("CADENCE_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:           "cadence",
		Short:         "Campaign execution health and correlation engine",
		Long:          "cadence tracks campaign phases and work items, measures schedule drift, gates launches on risk, and correlates execution events with performance.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", defaultApp, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	flags.BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")
	flags.StringVar(&opts.actorID, "actor", "cli", "actor id recorded on work-item change events")

	open := func(ctx context.Context) (*runtimeEnv, error) {
		return openRuntime(ctx, opts, stderr)
	}
	root.AddCommand(
		newPathsCommand(opts, stdout),
		newServeCommand(open),
		newCampaignCommand(open, opts),
		newPhaseCommand(open, opts),
		newItemCommand(open, opts),
		newReportCommand(open, opts),
		newRiskCommand(open, opts),
		newOverrideCommand(open, opts),
		newDriftCommand(open, opts),
		newWatchCommand(open, opts),
		newCorrelateCommand(open, opts),
		newEventsCommand(open, opts),
		newExportCommand(open),
		newImportCommand(open),
	)
	return root
}

// newPathsCommand prints resolved runtime paths without opening storage.
func newPathsCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and database paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: opts.appName, DevMode: opts.devMode})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

// runtimeEnv holds the opened storage, service, and logger for one command run.
type runtimeEnv struct {
	cfg    config.Config
	logger *runtimeLogger
	repo   *sqlite.Repository
	svc    *app.Service
	engine *servercommon.AppServiceAdapter
}

// openRuntime resolves config and opens storage plus the application service.
func openRuntime(ctx context.Context, opts *rootOptions, stderr io.Writer) (*runtimeEnv, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: opts.appName, DevMode: opts.devMode})
	if err != nil {
		return nil, err
	}

	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("CADENCE_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(opts.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("CADENCE_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	cfg, err = config.ApplyEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, paths.LogDir, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}

	reasoner, err := buildReasoner(ctx, cfg.Reasoning, logger)
	if err != nil {
		_ = repo.Close()
		_ = logger.Close()
		return nil, err
	}

	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		CategoryBenchmarks:      cfg.Risk.CategoryBenchmarks,
		MaxActiveItemsPerMember: cfg.Risk.MaxActiveItemsPerMember,
		Correlation:             correlationThresholds(cfg.Correlation),
		PollInterval:            cfg.PollInterval(),
		Reasoner:                reasoner,
		ReasoningTimeout:        cfg.ReasoningTimeout(),
		ReasoningConcurrency:    cfg.Reasoning.MaxConcurrency,
		ReasoningMinConfidence:  cfg.Reasoning.MinConfidence,
		Logger:                  logger,
	})
	logger.Debug("application service initialized", "reasoning", reasoner != nil)

	return &runtimeEnv{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		svc:    svc,
		engine: servercommon.NewAppServiceAdapter(svc),
	}, nil
}

// Close releases storage and log sinks.
func (r *runtimeEnv) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.repo != nil {
		if err := r.repo.Close(); err != nil {
			r.logger.Warn("sqlite close failed", "db_path", r.cfg.Database.Path, "err", err)
			errs = append(errs, err)
		}
	}
	if err := r.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// buildReasoner returns nil when reasoning is disabled or has no credentials, so correlation
// runs on deterministic fallback explanations.
func buildReasoner(ctx context.Context, cfg config.ReasoningConfig, logger *runtimeLogger) (app.Reasoner, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("reasoning enabled without CADENCE_GENAI_API_KEY; using fallback explanations")
		return nil, nil
	}
	reasoner, err := newReasoner(ctx, gemini.Config{
		APIKey:          cfg.APIKey,
		Model:           cfg.Model,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}, gemini.WithUsageHook(func(u gemini.Usage) {
		logger.Debug("reasoning usage", "prompt_tokens", u.PromptTokens, "response_tokens", u.ResponseTokens, "total_tokens", u.TotalTokens)
	}))
	if err != nil {
		return nil, fmt.Errorf("configure reasoning client: %w", err)
	}
	logger.Info("reasoning client ready", "model", cfg.Model)
	return reasoner, nil
}

// parseBoolEnv reads one boolean env var; ok is false when unset or malformed.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// correlationThresholds maps config cutoffs onto the engine thresholds.
func correlationThresholds(cfg config.CorrelationConfig) domain.CorrelationThresholds {
	return domain.CorrelationThresholds{
		SignificanceFloorPct: cfg.SignificanceFloorPct,
		StrongDriftDays:      cfg.StrongDriftDays,
		StrongChangePct:      cfg.StrongChangePct,
		ModerateDriftDays:    cfg.ModerateDriftDays,
		ModerateChangePct:    cfg.ModerateChangePct,
		WeakChangePct:        cfg.WeakChangePct,
		FallbackConfidence:   cfg.FallbackConfidence,
		TrendWindow:          cfg.TrendWindow,
	}
}
