// Package cmd implements the CLI command structure for parallax.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nibzard/parallax/internal/analyzer"
	"github.com/nibzard/parallax/internal/backend"
	"github.com/nibzard/parallax/internal/config"
	"github.com/nibzard/parallax/internal/engine"
	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/observability"
	"github.com/nibzard/parallax/internal/probe"
	"github.com/nibzard/parallax/internal/prompts"
	"github.com/nibzard/parallax/internal/task"
	"github.com/nibzard/parallax/internal/ui"
	"github.com/nibzard/parallax/internal/workspace"
)

// Version is set via ldflags at build time.
var Version = "dev"

// DefaultPlanOutput is where the plan command writes when --output is not
// given.
const DefaultPlanOutput = "parallax-plan.json"

// Run executes the parallax CLI.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parallax", flag.ContinueOnError)
	fs.Usage = func() {
		printUsage(fs, os.Stderr)
	}
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help")
	showVersion := fs.Bool("version", false, "Show version")
	fs.BoolVar(showVersion, "v", false, "Show version")

	cws, err := config.LoadWithSources(fs, args)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *help {
		printUsage(fs, os.Stdout)
		return nil
	}
	if *showVersion {
		return versionCommand(os.Stdout)
	}

	// No subcommand, or a leading path, means "run".
	subcommand := "run"
	remainingArgs := fs.Args()
	if len(remainingArgs) > 0 && !strings.HasPrefix(remainingArgs[0], "-") {
		switch remainingArgs[0] {
		case "run", "plan", "report", "doctor", "version", "help":
			subcommand = remainingArgs[0]
			remainingArgs = remainingArgs[1:]
		default:
			if _, err := os.Stat(remainingArgs[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Unknown command: %s\n", remainingArgs[0])
				printUsage(fs, os.Stderr)
				return fmt.Errorf("unknown command: %s", remainingArgs[0])
			}
		}
	}

	switch subcommand {
	case "run":
		return runCommand(ctx, cws, remainingArgs)
	case "plan":
		return planCommand(cws, remainingArgs)
	case "report":
		return reportCommand(cws.Config, remainingArgs)
	case "doctor":
		return doctorCommand(ctx, cws, remainingArgs)
	case "version":
		return versionCommand(os.Stdout)
	default:
		printUsage(fs, os.Stdout)
		return nil
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	return logging.NewConsoleFromConfig(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.LogTimestamps, cfg.LogCaller)
}

func newAnalyzer(cfg *config.Config, logger *log.Logger) (*analyzer.Analyzer, error) {
	return analyzer.New(analyzer.Options{
		Root:              cfg.TaskDir,
		SourceRoot:        cfg.ProjectRoot,
		MaxDescriptors:    cfg.MaxDescriptors,
		MaxBytes:          cfg.MaxDescriptorBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		ImportNamespace:   cfg.ImportNamespace,
		MaxGroupSize:      cfg.MaxGroupSize,
		Detector:          analyzer.MarkerDetector{Marker: cfg.ImplementedMarker},
		Logger:            logger.WithPrefix("analyzer"),
	})
}

// analyze builds a plan from explicit descriptor paths, or from every
// descriptor under the task directory when none are given.
func analyze(cfg *config.Config, logger *log.Logger, paths []string) (*task.Plan, error) {
	a, err := newAnalyzer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		paths, err = a.Discover()
		if err != nil {
			return nil, err
		}
	}
	records, err := a.Analyze(paths)
	if err != nil {
		return nil, fmt.Errorf("analyzing descriptors: %w", err)
	}
	return a.Plan(records), nil
}

func probeOptions(cfg *config.Config) probe.Options {
	return probe.Options{
		Thresholds: probe.Thresholds{
			CPUPercent:           cfg.Probe.CPUThreshold,
			MemoryPercent:        cfg.Probe.MemoryThreshold,
			DiskPercent:          cfg.Probe.DiskThreshold,
			MinAvailableMemoryGB: cfg.Probe.MinAvailableMemoryGB,
			LoadPerCPU:           cfg.Probe.LoadFactor,
		},
		Interval:        cfg.Probe.Interval,
		HistorySize:     cfg.Probe.HistorySize,
		MaxConcurrency:  cfg.Probe.MaxConcurrency,
		MemoryPerTaskGB: cfg.Probe.MemoryPerTaskGB,
	}
}

// runCommand analyzes descriptors (or loads a saved plan) and executes it.
func runCommand(ctx context.Context, cws *config.ConfigWithSources, args []string) error {
	cfg := cws.Config
	fs := flag.NewFlagSet("parallax run", flag.ContinueOnError)
	planPath := fs.String("plan", "", "Execute a saved plan instead of analyzing descriptors")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(cfg)

	var (
		plan *task.Plan
		err  error
	)
	if *planPath != "" {
		if fs.NArg() > 0 {
			return fmt.Errorf("descriptor paths cannot be combined with --plan")
		}
		plan, err = task.LoadPlan(*planPath)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}
	} else {
		plan, err = analyze(cfg, logger, fs.Args())
		if err != nil {
			return err
		}
	}
	if plan.TotalTasks == 0 {
		logger.Info("no tasks to run", "task_dir", cfg.TaskDir)
		return nil
	}

	runID := uuid.NewString()
	runLog, err := logging.NewRunLogger(cfg.LogDir, cfg.ProjectRoot, runID)
	if err != nil {
		return fmt.Errorf("creating run log: %w", err)
	}
	defer runLog.Close()
	logger = logger.With("run", runID)
	logger.Debug("run log", "dir", runLog.Dir)

	tracing, err := observability.Setup(ctx, cfg.TraceExporter, "parallax", os.Stderr)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	renderer, err := prompts.LoadRenderer(cfg.PromptTemplate)
	if err != nil {
		return err
	}
	gen := prompts.NewGenerator(cfg.Process.Binary, cfg.Process.Args, cfg.TaskDir, renderer)

	b, err := backend.New(ctx, cfg, gen, logger)
	if err != nil {
		return fmt.Errorf("initializing backend: %w", err)
	}
	defer b.Close()

	p := probe.New(probe.NewHostSampler(cfg.Probe.DiskPath), probeOptions(cfg))
	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()
	go func() { _ = p.Run(probeCtx) }()

	opts := []engine.Option{
		engine.WithProbe(p),
		engine.WithResolver(workspace.DirResolver{Root: cfg.Worktree.Root, Create: cfg.Worktree.Create}),
		engine.WithLogger(logger.WithPrefix("engine")),
		engine.WithTracer(tracing.Tracer()),
		engine.WithRunID(runID),
		engine.WithObserver(eventLog(runLog, logger)),
	}

	var events chan engine.Event
	if cfg.UI == "tui" {
		if ui.IsTTY(os.Stdout) {
			events = make(chan engine.Event, 256)
			opts = append(opts, engine.WithObserver(ui.Forwarder(events)))
		} else {
			logger.Warn("tui requires a TTY, continuing without it")
		}
	}

	eng := engine.New(b, opts...)
	logger.Info("executing plan",
		"tasks", plan.TotalTasks,
		"groups", plan.ExecutionGroups,
		"backend", b.Name(),
		"estimated_minutes", plan.EstimatedParallelTime,
	)

	report, err := execute(ctx, eng, plan, cfg, events, logger)
	if err != nil {
		return err
	}

	if err := report.Save(cfg.Output); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	if err := report.Save(runLog.Path(logging.ReportFile)); err != nil {
		logger.Warn("copy report to run log", "err", err)
	}
	printReport(os.Stdout, report)
	fmt.Printf("\nReport written to %s\n", cfg.Output)

	// A completed run exits 0 whatever its tasks did; an interrupted one
	// surfaces the interruption.
	return ctx.Err()
}

// execute runs the plan, showing the monitor when events is non-nil.
func execute(ctx context.Context, eng *engine.Engine, plan *task.Plan, cfg *config.Config, events chan engine.Event, logger *log.Logger) (*engine.Report, error) {
	if events == nil {
		return eng.Run(ctx, plan.Groups, cfg.MaxParallel, cfg.Timeout)
	}

	type outcome struct {
		report *engine.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := eng.Run(ctx, plan.Groups, cfg.MaxParallel, cfg.Timeout)
		close(events)
		done <- outcome{report, err}
	}()

	if err := ui.RunMonitor(ctx, os.Stdout, events, eng); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("monitor stopped", "err", err)
	}
	res := <-done
	return res.report, res.err
}

// eventLog returns an observer that appends engine events to the run's
// JSONL log.
func eventLog(runLog *logging.RunLogger, logger *log.Logger) engine.Observer {
	return func(ev engine.Event) {
		if err := runLog.Write(ev); err != nil {
			logger.Debug("write event", "err", err)
		}
	}
}

// planCommand analyzes descriptors and writes the execution plan.
func planCommand(cws *config.ConfigWithSources, args []string) error {
	cfg := cws.Config
	fs := flag.NewFlagSet("parallax plan", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(cfg)
	plan, err := analyze(cfg, logger, fs.Args())
	if err != nil {
		return err
	}

	output := cfg.Output
	if cws.Source("output") == config.SourceDefault {
		output = filepath.Join(cfg.ProjectRoot, DefaultPlanOutput)
	}
	if err := plan.Save(output); err != nil {
		return err
	}

	printPlan(os.Stdout, plan)
	fmt.Printf("\nPlan written to %s\n", output)
	return nil
}

// reportCommand prints a saved report. With no path it reads the configured
// output, and --latest reads the newest run's copy.
func reportCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("parallax report", flag.ContinueOnError)
	latest := fs.Bool("latest", false, "Show the report of the most recent run")
	verbose := fs.Bool("v", false, "Show task output excerpts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}

	path := cfg.Output
	switch {
	case fs.NArg() == 1:
		path = fs.Arg(0)
	case *latest:
		logDir, err := logging.FindLogDir(cfg.LogDir, cfg.ProjectRoot)
		if err != nil {
			return fmt.Errorf("finding log directory: %w", err)
		}
		runs, err := logging.FindRuns(logDir)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		path = filepath.Join(runs[0].Dir, logging.ReportFile)
	}

	report, err := engine.LoadReport(path)
	if err != nil {
		return fmt.Errorf("loading report: %w", err)
	}
	printReport(os.Stdout, report)
	if *verbose {
		printTaskDetails(os.Stdout, report)
	}
	return nil
}

// versionCommand prints version information.
func versionCommand(w io.Writer) error {
	fmt.Fprintf(w, "parallax version %s\n", Version)
	return nil
}

func printPlan(w io.Writer, plan *task.Plan) {
	fmt.Fprintf(w, "Tasks: %d (%d parallelizable, %d sequential)\n", plan.TotalTasks, plan.ParallelizableTasks, plan.SequentialTasks)
	fmt.Fprintf(w, "Groups: %d\n", plan.ExecutionGroups)
	fmt.Fprintf(w, "Estimated time: %d min sequential, %d min parallel (%.2fx)\n",
		plan.EstimatedSequentialTime, plan.EstimatedParallelTime, plan.SpeedImprovement)
	fmt.Fprintf(w, "Peak resources: %.1f cpu, %d MB memory, %d MB disk\n",
		plan.ResourceRequirements.CPU, plan.ResourceRequirements.MemoryMB, plan.ResourceRequirements.DiskMB)
	for _, g := range plan.Groups {
		mode := "sequential"
		if g.Parallelizable {
			mode = "parallel"
		}
		fmt.Fprintf(w, "\n  Group %d (%s, ~%d min)\n", g.ID, mode, g.EstimatedTime)
		for _, t := range g.Tasks {
			fmt.Fprintf(w, "    - [%s] %s (%s, %s)\n", t.ID, t.Name, t.Type, t.Complexity)
			if len(t.Dependencies) > 0 {
				fmt.Fprintf(w, "        depends on: %s\n", strings.Join(t.Dependencies, ", "))
			}
			if len(t.Conflicts) > 0 {
				fmt.Fprintf(w, "        conflicts: %s\n", strings.Join(t.Conflicts, ", "))
			}
		}
	}
}

func printReport(w io.Writer, report *engine.Report) {
	s := report.ExecutionSummary.Statistics
	fmt.Fprintf(w, "Run %s (%s backend)\n", report.RunID, s.ExecutionMode)
	fmt.Fprintf(w, "  Total: %d  Succeeded: %d  Failed: %d  Timed out: %d  Cancelled: %d  Skipped: %d\n",
		s.TotalTasks, s.CompletedTasks, s.FailedTasks, s.TimedOutTasks, s.CancelledTasks, s.SkippedTasks)
	fmt.Fprintf(w, "  Wall clock: %.1fs  Task time: %.1fs  Speedup: %.2fx\n", s.ParallelTime, s.SequentialTime, s.SpeedImprovement)
	for _, id := range report.TaskIDs() {
		res := report.TaskResults[id]
		line := fmt.Sprintf("  %s %s: %s", statusIcon(res.Status), id, res.Status)
		if res.Status != backend.StatusSuccess && res.Error != "" {
			line += " (" + res.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func printTaskDetails(w io.Writer, report *engine.Report) {
	for _, id := range report.TaskIDs() {
		res := report.TaskResults[id]
		fmt.Fprintf(w, "\n%s [%s] exit %d, %s\n", id, res.Status, res.ExitCode, res.Duration.Round(time.Millisecond))
		if res.OutputFile != "" {
			fmt.Fprintf(w, "  output: %s\n", res.OutputFile)
		}
		if out := excerpt(res.Stderr, 5); out != "" {
			fmt.Fprintf(w, "  stderr:\n%s\n", out)
		}
	}
}

// excerpt returns the last n non-empty lines of s, indented.
func excerpt(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, "    "+line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func statusIcon(s backend.Status) string {
	switch s {
	case backend.StatusSuccess:
		return "✅"
	case backend.StatusFailed:
		return "❌"
	case backend.StatusTimeout:
		return "⏱️"
	case backend.StatusCancelled:
		return "🚫"
	case backend.StatusSkipped:
		return "⏭️"
	}
	return "❓"
}

// printUsage prints the usage message.
func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Parallax - parallel task execution for coding agents")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  parallax [options] [command] [paths...]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run [paths]      Analyze descriptors and execute them (default command)")
	fmt.Fprintln(w, "  plan [paths]     Analyze descriptors and write the execution plan")
	fmt.Fprintln(w, "  report [file]    Show a saved run report")
	fmt.Fprintln(w, "  doctor           Check configuration, backends, and host resources")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w, "  help             Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run Options (use with 'run' command):")
	fmt.Fprintln(w, "  -plan string")
	fmt.Fprintln(w, "        Execute a saved plan instead of analyzing descriptors")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Report Options (use with 'report' command):")
	fmt.Fprintln(w, "  -latest")
	fmt.Fprintln(w, "        Show the report of the most recent run")
	fmt.Fprintln(w, "  -v    Show task output excerpts")
}
