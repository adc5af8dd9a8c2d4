package config

// ExampleConfig returns an example configuration showing all available options.
func ExampleConfig() string {
	return `# parallax configuration file
# Values can be overridden by PARALLAX_* environment variables or CLI flags.

# Directory scanned for task descriptors when no paths are given
task_dir = "tasks"

# Plan or report output (.json, or .yaml/.yml for plans)
output = "parallax-report.json"

# Log directory (supports ~ expansion and %VAR% on Windows)
log_dir = "~/.parallax"

# Concurrency ceiling; 0 lets host telemetry decide
max_parallel = 0

# Largest batch of parallelizable tasks admitted together
max_group_size = 4

# Default per-task timeout (frontmatter "timeout" overrides per task)
timeout = "30m"

# Execution backend: auto, process, or container
backend = "auto"

# Descriptor validation
max_descriptors = 50
max_descriptor_bytes = 1048576
allowed_extensions = [".md", ".markdown", ".txt"]
implemented_marker = "<!-- implemented -->"

# Only imports under this prefix are treated as task dependencies
import_namespace = "src"

# Custom text/template for task prompts (built-in template when empty)
# prompt_template = "prompts/task.tmpl"

# Tracing: none or stdout
trace_exporter = "none"

# Logging
log_level = "info"
log_format = "text"
log_timestamps = false
log_caller = false

[probe]
interval = "30s"
history_size = 60
cpu_threshold = 90.0
memory_threshold = 85.0
disk_threshold = 95.0
min_available_memory_gb = 1.0
load_factor = 2.0
memory_per_task_gb = 2.0
max_concurrency = 4
disk_path = "/"

[process]
binary = "claude"
args = []
grace_period = "10s"

[container]
image = "ghcr.io/anthropics/claude-code:latest"
cpus = 2.0
memory_mb = 4096
network = "bridge"
grace_period = "10s"
retries = 3
retry_backoff = "2s"
automation_flags = ["--dangerously-skip-permissions", "--output-format", "json"]

[worktree]
root = "worktrees"
create = true
`
}
