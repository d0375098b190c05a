// Package main provides the CLI entry point for commitprobe, a
// verification harness for the periodic commit behavior of
// asynchronous compute backends.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpslab/commitprobe/check"
	"github.com/mpslab/commitprobe/device"
	"github.com/mpslab/commitprobe/harness"
	"github.com/mpslab/commitprobe/observer"
	"github.com/mpslab/commitprobe/report"
)

// errVerificationFailed marks a run that completed with failing rows,
// as opposed to a run that could not execute.
var errVerificationFailed = errors.New("verification failed")

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errVerificationFailed) {
			logger.Error("run failed", slog.String("error", err.Error()))
		}

		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "commitprobe",
		Short: "Commit-policy verification harness for async compute backends",
		Long: `Commitprobe checks whether an asynchronous compute backend commits
enqueued work periodically (every N ops) or defers everything to the next
synchronize, by timing op workloads while counting commit marker events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger))

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		mode        string
		configPath  string
		deviceName  string
		counterName string
		outDir      string
		threshold   int
		trials      int
		settleMS    int
		outputJSON  bool
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the commit verification suite",
		Long: `Drive op workloads through the selected backend while counting commit
marker events, then judge the counts against the mode's expectation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd.Context(), logger, verifyConfig{
				mode:        mode,
				configPath:  configPath,
				deviceName:  deviceName,
				counterName: counterName,
				outDir:      outDir,
				threshold:   threshold,
				trials:      trials,
				settleMS:    settleMS,
				settleSet:   cmd.Flags().Changed("settle"),
				outputJSON:  outputJSON,
				noProgress:  noProgress,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", "",
		"Run mode: with_fix (periodic commits expected) or without_fix (baseline)")
	flags.StringVar(&configPath, "config", "",
		"Path to a YAML run configuration")
	flags.StringVar(&deviceName, "device", "mps",
		"Backend to drive (e.g. mps, cpu)")
	flags.StringVar(&counterName, "counter", "logstream",
		"Commit evidence source: logstream or hook")
	flags.StringVar(&outDir, "out-dir", "",
		"Directory for report files (default from config)")
	flags.IntVar(&threshold, "threshold", 0,
		"Override the commit trigger threshold")
	flags.IntVar(&trials, "trials", 0,
		"Override the number of timed trials per row")
	flags.IntVar(&settleMS, "settle", 0,
		"Override the subscription settle delay in milliseconds")
	flags.BoolVar(&outputJSON, "json", false,
		"Also write the result as JSON")
	flags.BoolVar(&noProgress, "no-progress", false,
		"Disable the per-row trial progress bar")

	return cmd
}

type verifyConfig struct {
	mode        string
	configPath  string
	deviceName  string
	counterName string
	outDir      string
	threshold   int
	trials      int
	settleMS    int
	settleSet   bool
	outputJSON  bool
	noProgress  bool
}

func runVerify(
	ctx context.Context,
	logger *slog.Logger,
	cfg verifyConfig,
) error {
	if cfg.mode == "" {
		return fmt.Errorf(
			"mode must be specified via --mode (with_fix or without_fix)",
		)
	}

	mode, err := check.ParseMode(cfg.mode)
	if err != nil {
		return err
	}

	// Step 1: Load run configuration (defaults unless --config).
	runCfg := harness.DefaultConfig()
	if cfg.configPath != "" {
		runCfg, err = harness.LoadConfig(cfg.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	applyFlagOverrides(&runCfg, cfg)

	if err := runCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Step 2: Open the backend. A machine without it is not a failure.
	backend, err := device.Open(cfg.deviceName)
	if err != nil {
		if errors.Is(err, device.ErrUnavailable) {
			logger.InfoContext(ctx, "backend unavailable",
				slog.String("requested", cfg.deviceName),
				slog.String("registered", strings.Join(device.Names(), ",")),
			)
			fmt.Printf("%s not available\n", cfg.deviceName)

			return nil
		}

		return fmt.Errorf("open backend: %w", err)
	}

	logger.InfoContext(ctx, "starting verification",
		slog.String("mode", string(mode)),
		slog.String("backend", backend.Name()),
		slog.Int("threshold", runCfg.Threshold),
		slog.Int("trials", runCfg.Trials),
		slog.String("marker", runCfg.Marker),
	)

	// Step 3: Pick the commit evidence source.
	counter, err := newCounter(cfg.counterName, backend, runCfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("mode: %s  |  commit every %d ops  |  %d trials\n",
		mode, runCfg.Threshold, runCfg.Trials)
	fmt.Printf("backend: %s\n", backend.Name())
	fmt.Println()

	// Step 4: Warm up and measure.
	h := &harness.Harness{
		Backend:  backend,
		Counter:  counter,
		Config:   runCfg,
		Mode:     mode,
		Logger:   logger,
		Console:  os.Stdout,
		Progress: !cfg.noProgress,
	}

	res, err := h.Run(ctx)
	if err != nil {
		return err
	}

	if len(res.Failures) > 0 {
		fmt.Println("FAILED:")

		for _, f := range res.Failures {
			fmt.Printf("  %s\n", f)
		}
	}

	// Step 5: Persist the report, then decide the exit.
	if err := os.MkdirAll(runCfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	path := report.FilePath(runCfg.OutDir, mode)
	if err := report.Write(path, res); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("wrote %s\n", path)

	if cfg.outputJSON {
		jsonPath := report.JSONPath(runCfg.OutDir, mode)
		if err := report.WriteJSON(jsonPath, res); err != nil {
			return err
		}

		fmt.Printf("wrote %s\n", jsonPath)
	}

	if len(res.Failures) > 0 {
		return errVerificationFailed
	}

	return nil
}

// applyFlagOverrides lays explicit command-line values over the loaded
// config. settle is overlaid on flag presence: 0 is a valid delay.
// threshold and trials have no valid zero, so positive means set.
func applyFlagOverrides(runCfg *harness.Config, cfg verifyConfig) {
	if cfg.threshold > 0 {
		runCfg.Threshold = cfg.threshold
	}

	if cfg.trials > 0 {
		runCfg.Trials = cfg.trials
	}

	if cfg.settleSet {
		runCfg.SettleMS = cfg.settleMS
	}

	if cfg.outDir != "" {
		runCfg.OutDir = cfg.outDir
	}
}

// newCounter builds the commit evidence source. The hook counter needs
// a backend that can notify; everything else falls back to scraping
// the OS log.
func newCounter(
	kind string,
	backend device.Backend,
	cfg harness.Config,
	logger *slog.Logger,
) (observer.Counter, error) {
	switch kind {
	case "logstream":
		return observer.NewLogStream(cfg.Marker, cfg.Settle(), logger), nil

	case "hook":
		notifier, ok := backend.(device.CommitNotifier)
		if !ok {
			return nil, fmt.Errorf(
				"backend %s does not expose a commit hook", backend.Name(),
			)
		}

		hook := &observer.Hook{}
		notifier.OnCommit(hook.Record)

		return hook, nil

	default:
		return nil, fmt.Errorf(
			"unknown counter %q (want logstream or hook)", kind,
		)
	}
}
