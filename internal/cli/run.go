package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studiowebux/flux/internal/config"
	"github.com/studiowebux/flux/internal/engine"
	"github.com/studiowebux/flux/internal/history"
	"github.com/studiowebux/flux/internal/httpclient"
	"github.com/studiowebux/flux/internal/logging"
	"github.com/studiowebux/flux/internal/report"
	"github.com/studiowebux/flux/internal/telemetry"
	"github.com/studiowebux/flux/internal/ui"
)

type runOptions struct {
	configPath  string
	concurrency int
	duration    string
	mode        string
	timeout     time.Duration
	insecure    bool
	dataRoot    string
	extraVars   []string
	envFile     string
	outJSON     string
	outHTML     string
	metricsAddr string
	historyDB   string
	quiet       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a load test workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "workload configuration file")
	cmd.Flags().IntVarP(&opts.concurrency, "workers", "w", 0, "override worker count")
	cmd.Flags().StringVarP(&opts.duration, "duration", "d", "", "override run duration (e.g. 30s, 5m)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "override execution mode (async or sync)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", httpclient.DefaultRequestTimeout, "per-request timeout")
	cmd.Flags().BoolVar(&opts.insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&opts.dataRoot, "data-root", "", "restrict multipart file paths to this directory")
	cmd.Flags().StringArrayVarP(&opts.extraVars, "var", "e", nil, "runtime variable (key=value, repeatable)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "load runtime variables from a dotenv file")
	cmd.Flags().StringVar(&opts.outJSON, "out-json", "", "override JSON report path")
	cmd.Flags().StringVar(&opts.outHTML, "out-html", "", "override HTML report path")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&opts.historyDB, "history-db", "", "record the run in this SQLite history database")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output")

	return cmd
}

func runLoadTest(opts *runOptions) error {
	logger, err := logging.New(flagLogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)
	if err := cfg.Validate(opts.dataRoot); err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	globals, err := loadGlobals(opts)
	if err != nil {
		return err
	}

	client := httpclient.New(logger, httpclient.Options{
		Concurrency:    cfg.Concurrency,
		RequestTimeout: opts.timeout,
		Insecure:       opts.insecure,
		DisableHTTP2:   cfg.Mode == config.ModeSync,
	})

	var pub telemetry.Publisher = telemetry.Noop()
	if opts.metricsAddr != "" {
		prom := telemetry.NewPrometheus()
		prom.Serve(opts.metricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			prom.Shutdown(shutdownCtx)
		}()
		pub = prom
	}

	printer := ui.NewPrinter(os.Stdout, cfg.TestDuration())
	var progress engine.Progress
	if !opts.quiet {
		printer.Banner(cfg.Target, cfg.Mode, cfg.Concurrency)
		progress = printer.Progress
	}

	exec, err := engine.New(engine.Options{
		Config:    cfg,
		Client:    client,
		Logger:    logger,
		Telemetry: pub,
		Progress:  progress,
		Globals:   globals,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	result, err := exec.Run(ctx)
	if err != nil {
		return err
	}
	if !opts.quiet {
		printer.FinishProgress()
		printer.Summary(result.Summary)
	}

	if err := writeReports(cfg, opts, result, printer); err != nil {
		return fatal(err)
	}

	if opts.historyDB != "" {
		if err := recordHistory(opts, cfg, result, startedAt); err != nil {
			// History is best-effort; a broken database must not fail a
			// completed run.
			logger.Warn("failed to record run history", zap.Error(err))
		}
	}

	return nil
}

func applyOverrides(cfg *config.Config, opts *runOptions) {
	if opts.concurrency > 0 {
		cfg.Concurrency = opts.concurrency
	}
	if opts.duration != "" {
		cfg.Duration = opts.duration
	}
	if opts.mode != "" {
		cfg.Mode = opts.mode
	}
	if opts.outJSON != "" {
		cfg.Output.JSON = opts.outJSON
	}
	if opts.outHTML != "" {
		cfg.Output.HTML = opts.outHTML
	}
}

// loadGlobals merges --env-file values with --var flags; flags win
func loadGlobals(opts *runOptions) (map[string]string, error) {
	globals := make(map[string]string)

	if opts.envFile != "" {
		fromFile, err := godotenv.Read(opts.envFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
		for k, v := range fromFile {
			globals[k] = v
		}
	}

	for _, pair := range opts.extraVars {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		globals[key] = value
	}

	return globals, nil
}

func writeReports(cfg *config.Config, opts *runOptions, result *report.Report, printer *ui.Printer) error {
	if cfg.Output.JSON != "" {
		if err := result.WriteJSON(cfg.Output.JSON); err != nil {
			return err
		}
		if !opts.quiet {
			printer.Success("JSON report saved to " + cfg.Output.JSON)
		}
	}
	if cfg.Output.HTML != "" {
		if err := result.WriteHTML(cfg.Output.HTML); err != nil {
			return err
		}
		if !opts.quiet {
			printer.Success("HTML report saved to " + cfg.Output.HTML)
		}
	}
	return nil
}

func recordHistory(opts *runOptions, cfg *config.Config, result *report.Report, startedAt time.Time) error {
	store, err := history.Open(opts.historyDB)
	if err != nil {
		return err
	}
	defer store.Close()

	run := &history.Run{
		ConfigPath:  opts.configPath,
		Target:      cfg.Target,
		Mode:        cfg.Mode,
		Concurrency: cfg.Concurrency,
		StartedAt:   startedAt,
	}
	if err := store.CreateRun(run); err != nil {
		return err
	}
	if err := store.SaveOutcomes(run.ID, result.Results); err != nil {
		return err
	}
	return store.CompleteRun(run.ID, result.Summary)
}
