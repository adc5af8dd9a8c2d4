package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "PARALLAX_"

// loadFromEnv overrides config from PARALLAX_* environment variables.
// Malformed numeric or duration values are reported rather than ignored.
func loadFromEnv(cfg *Config, sources map[string]ConfigSource) error {
	set := func(key string) {
		if sources != nil {
			sources[key] = SourceEnv
		}
	}

	strVars := []struct {
		env    string
		key    string
		target *string
	}{
		{"TASK_DIR", "task_dir", &cfg.TaskDir},
		{"OUTPUT", "output", &cfg.Output},
		{"LOG_DIR", "log_dir", &cfg.LogDir},
		{"BACKEND", "backend", &cfg.Backend},
		{"UI", "ui", &cfg.UI},
		{"TRACE_EXPORTER", "trace_exporter", &cfg.TraceExporter},
		{"IMPLEMENTED_MARKER", "implemented_marker", &cfg.ImplementedMarker},
		{"IMPORT_NAMESPACE", "import_namespace", &cfg.ImportNamespace},
		{"PROMPT_TEMPLATE", "prompt_template", &cfg.PromptTemplate},
		{"LOG_LEVEL", "log_level", &cfg.LogLevel},
		{"LOG_FORMAT", "log_format", &cfg.LogFormat},
		{"BINARY", "process.binary", &cfg.Process.Binary},
		{"IMAGE", "container.image", &cfg.Container.Image},
		{"NETWORK", "container.network", &cfg.Container.Network},
		{"WORKTREE_ROOT", "worktree.root", &cfg.Worktree.Root},
	}
	for _, v := range strVars {
		if val := os.Getenv(envPrefix + v.env); val != "" {
			*v.target = val
			set(v.key)
		}
	}

	intVars := []struct {
		env    string
		key    string
		target *int
	}{
		{"MAX_PARALLEL", "max_parallel", &cfg.MaxParallel},
		{"MAX_GROUP_SIZE", "max_group_size", &cfg.MaxGroupSize},
		{"MAX_DESCRIPTORS", "max_descriptors", &cfg.MaxDescriptors},
		{"MAX_CONCURRENCY", "probe.max_concurrency", &cfg.Probe.MaxConcurrency},
		{"CONTAINER_RETRIES", "container.retries", &cfg.Container.Retries},
	}
	for _, v := range intVars {
		val := os.Getenv(envPrefix + v.env)
		if val == "" {
			continue
		}
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, v.env, err)
		}
		*v.target = i
		set(v.key)
	}

	durVars := []struct {
		env    string
		key    string
		target *time.Duration
	}{
		{"TIMEOUT", "timeout", &cfg.Timeout},
		{"PROBE_INTERVAL", "probe.interval", &cfg.Probe.Interval},
		{"GRACE_PERIOD", "process.grace_period", &cfg.Process.GracePeriod},
	}
	for _, v := range durVars {
		val := os.Getenv(envPrefix + v.env)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, v.env, err)
		}
		*v.target = d
		set(v.key)
	}

	boolVars := []struct {
		env    string
		key    string
		target *bool
	}{
		{"LOG_TIMESTAMPS", "log_timestamps", &cfg.LogTimestamps},
		{"LOG_CALLER", "log_caller", &cfg.LogCaller},
		{"WORKTREE_CREATE", "worktree.create", &cfg.Worktree.Create},
	}
	for _, v := range boolVars {
		if val := os.Getenv(envPrefix + v.env); val != "" {
			*v.target = boolFromString(val)
			set(v.key)
		}
	}

	if val := os.Getenv(envPrefix + "ARGS"); val != "" {
		cfg.Process.Args = splitAndTrim(val, ",")
		set("process.args")
	}
	if val := os.Getenv(envPrefix + "ALLOWED_EXTENSIONS"); val != "" {
		cfg.AllowedExtensions = splitAndTrim(val, ",")
		set("allowed_extensions")
	}

	return nil
}

// boolFromString parses common truthy strings.
func boolFromString(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// splitAndTrim splits a string by sep and trims whitespace from each part.
// Empty parts are omitted from the result.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
