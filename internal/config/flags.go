package config

import (
	"flag"
	"strings"
)

// flagKeys maps flag names to the config key they set.
var flagKeys = map[string]string{
	"task-dir":         "task_dir",
	"output":           "output",
	"o":                "output",
	"log-dir":          "log_dir",
	"max-parallel":     "max_parallel",
	"max-group-size":   "max_group_size",
	"max-descriptors":  "max_descriptors",
	"timeout":          "timeout",
	"backend":          "backend",
	"ui":               "ui",
	"trace":            "trace_exporter",
	"import-namespace": "import_namespace",
	"log-level":        "log_level",
	"verbose":          "log_level",
	"log-format":       "log_format",
	"log-timestamps":   "log_timestamps",
	"log-caller":       "log_caller",
	"binary":           "process.binary",
	"args":             "process.args",
	"image":            "container.image",
	"worktree-root":    "worktree.root",
}

// parseFlags defines the global flags on fs and parses args into cfg.
// Flags bind directly to cfg so unset flags keep the lower-priority value.
func parseFlags(cfg *Config, fs *flag.FlagSet, args []string, sources map[string]ConfigSource) error {
	if fs == nil {
		fs = flag.NewFlagSet("parallax", flag.ContinueOnError)
	}

	fs.StringVar(&cfg.TaskDir, "task-dir", cfg.TaskDir, "Directory containing task descriptors")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "Output file for the plan or report")
	fs.StringVar(&cfg.Output, "o", cfg.Output, "Shorthand for --output")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Log directory")
	fs.IntVar(&cfg.MaxParallel, "max-parallel", cfg.MaxParallel, "Maximum concurrent tasks (0 = decided by host resources)")
	fs.IntVar(&cfg.MaxGroupSize, "max-group-size", cfg.MaxGroupSize, "Maximum tasks per parallel group")
	fs.IntVar(&cfg.MaxDescriptors, "max-descriptors", cfg.MaxDescriptors, "Maximum descriptors per run")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Default per-task timeout")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Execution backend (auto, process, container)")
	fs.StringVar(&cfg.UI, "ui", cfg.UI, "UI mode (tui for terminal UI)")
	fs.StringVar(&cfg.TraceExporter, "trace", cfg.TraceExporter, "Trace exporter (none, stdout)")
	fs.StringVar(&cfg.ImportNamespace, "import-namespace", cfg.ImportNamespace, "Import prefix considered for dependency analysis")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json, logfmt)")
	fs.BoolVar(&cfg.LogTimestamps, "log-timestamps", cfg.LogTimestamps, "Show timestamps in logs")
	fs.BoolVar(&cfg.LogCaller, "log-caller", cfg.LogCaller, "Show caller location in logs")
	fs.StringVar(&cfg.Process.Binary, "binary", cfg.Process.Binary, "Executable launched for each task")
	fs.StringVar(&cfg.Container.Image, "image", cfg.Container.Image, "Container image for the container backend")
	fs.StringVar(&cfg.Worktree.Root, "worktree-root", cfg.Worktree.Root, "Directory holding per-task working directories")

	verbose := fs.Bool("verbose", false, "Enable debug logging")
	argsStr := fs.String("args", strings.Join(cfg.Process.Args, ","), "Comma-separated extra args for the task executable")

	if err := fs.Parse(args); err != nil {
		return err
	}

	visited := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
		if key, ok := flagKeys[f.Name]; ok && sources != nil {
			sources[key] = SourceFlag
		}
	})

	if visited["args"] {
		cfg.Process.Args = splitAndTrim(*argsStr, ",")
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	return nil
}
