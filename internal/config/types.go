package config

import "time"

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault  ConfigSource = "default"
	SourceUserFile ConfigSource = "user file"
	SourceProjFile ConfigSource = "project file"
	SourceEnv      ConfigSource = "environment"
	SourceFlag     ConfigSource = "flag"
)

// ConfigWithSources holds configuration along with source information for each field.
type ConfigWithSources struct {
	Config  *Config
	Sources map[string]ConfigSource
	// Files lists the config files that were read, lowest priority first.
	Files []string
}

// Backend selection modes.
const (
	BackendAuto      = "auto"
	BackendProcess   = "process"
	BackendContainer = "container"
)

// Default values.
const (
	DefaultTaskDir            = "tasks"
	DefaultOutput             = "parallax-report.json"
	DefaultLogDir             = "~/.parallax"
	DefaultMaxDescriptors     = 50
	DefaultMaxGroupSize       = 4
	DefaultMaxDescriptorBytes = 1 << 20
	DefaultImplementedMarker  = "<!-- implemented -->"
	DefaultTimeout            = 30 * time.Minute
	DefaultBinary             = "claude"
	DefaultImage              = "ghcr.io/anthropics/claude-code:latest"
)

// DefaultAllowedExtensions returns the descriptor extensions accepted by default.
func DefaultAllowedExtensions() []string {
	return []string{".md", ".markdown", ".txt"}
}

// Config holds the full configuration for parallax.
type Config struct {
	// Paths
	TaskDir string `toml:"task_dir"`
	Output  string `toml:"output"`
	LogDir  string `toml:"log_dir"`

	// Scheduling. MaxParallel <= 0 leaves admission to the resource probe.
	MaxParallel  int           `toml:"max_parallel"`
	MaxGroupSize int           `toml:"max_group_size"`
	Timeout      time.Duration `toml:"timeout"`
	Backend      string        `toml:"backend"`

	// Analysis
	MaxDescriptors     int      `toml:"max_descriptors"`
	MaxDescriptorBytes int64    `toml:"max_descriptor_bytes"`
	AllowedExtensions  []string `toml:"allowed_extensions"`
	ImplementedMarker  string   `toml:"implemented_marker"`
	ImportNamespace    string   `toml:"import_namespace"`

	// PromptTemplate is a text/template file rendered into each task's
	// prompt. Empty uses the built-in template.
	PromptTemplate string `toml:"prompt_template"`

	// Output
	UI            string `toml:"ui"`
	TraceExporter string `toml:"trace_exporter"`

	// Logging configuration
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogTimestamps bool   `toml:"log_timestamps"`
	LogCaller     bool   `toml:"log_caller"`

	Probe     ProbeConfig     `toml:"probe"`
	Process   ProcessConfig   `toml:"process"`
	Container ContainerConfig `toml:"container"`
	Worktree  WorktreeConfig  `toml:"worktree"`

	// Project root (computed)
	ProjectRoot string `toml:"-"`
}

// ProbeConfig configures host resource sampling and admission thresholds.
type ProbeConfig struct {
	Interval             time.Duration `toml:"interval"`
	HistorySize          int           `toml:"history_size"`
	CPUThreshold         float64       `toml:"cpu_threshold"`
	MemoryThreshold      float64       `toml:"memory_threshold"`
	DiskThreshold        float64       `toml:"disk_threshold"`
	MinAvailableMemoryGB float64       `toml:"min_available_memory_gb"`
	LoadFactor           float64       `toml:"load_factor"`
	MemoryPerTaskGB      float64       `toml:"memory_per_task_gb"`
	MaxConcurrency       int           `toml:"max_concurrency"`
	DiskPath             string        `toml:"disk_path"`
}

// ProcessConfig configures the local subprocess backend.
type ProcessConfig struct {
	Binary      string        `toml:"binary"`
	Args        []string      `toml:"args"`
	GracePeriod time.Duration `toml:"grace_period"`
}

// ContainerConfig configures the container backend.
type ContainerConfig struct {
	Image        string        `toml:"image"`
	CPUs         float64       `toml:"cpus"`
	MemoryMB     int64         `toml:"memory_mb"`
	Network      string        `toml:"network"`
	GracePeriod  time.Duration `toml:"grace_period"`
	Retries      int           `toml:"retries"`
	RetryBackoff time.Duration `toml:"retry_backoff"`
	// AutomationFlags are appended to every in-container command.
	AutomationFlags []string `toml:"automation_flags"`
}

// WorktreeConfig configures how task IDs map to working directories.
type WorktreeConfig struct {
	Root   string `toml:"root"`
	Create bool   `toml:"create"`
}
