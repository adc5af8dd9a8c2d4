// Package config tests configuration loading.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

// isolate points HOME and the working directory at fresh temp dirs so no
// real config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("APPDATA", filepath.Join(home, "AppData"))
	work := t.TempDir()
	t.Chdir(work)
	return work
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	if cfg.MaxDescriptors != DefaultMaxDescriptors {
		t.Errorf("MaxDescriptors: got %d, want %d", cfg.MaxDescriptors, DefaultMaxDescriptors)
	}
	if cfg.MaxGroupSize != 4 {
		t.Errorf("MaxGroupSize: got %d, want 4", cfg.MaxGroupSize)
	}
	if cfg.Backend != BackendAuto {
		t.Errorf("Backend: got %q, want auto", cfg.Backend)
	}
	if cfg.Probe.MaxConcurrency != 4 {
		t.Errorf("Probe.MaxConcurrency: got %d, want 4", cfg.Probe.MaxConcurrency)
	}
	if cfg.Probe.CPUThreshold != 90 || cfg.Probe.MemoryThreshold != 85 || cfg.Probe.DiskThreshold != 95 {
		t.Errorf("unexpected probe thresholds: %+v", cfg.Probe)
	}
	if !reflect.DeepEqual(cfg.AllowedExtensions, []string{".md", ".markdown", ".txt"}) {
		t.Errorf("AllowedExtensions: got %v", cfg.AllowedExtensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadPriority(t *testing.T) {
	work := isolate(t)

	userDir := filepath.Join(os.Getenv("HOME"), ".parallax")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatal(err)
	}
	user := "max_group_size = 2\nbackend = \"process\"\n[probe]\nmax_concurrency = 6\n"
	if err := os.WriteFile(filepath.Join(userDir, "parallax.toml"), []byte(user), 0644); err != nil {
		t.Fatal(err)
	}
	project := "max_group_size = 3\ntimeout = \"5m\"\n[container]\nretries = 1\n"
	if err := os.WriteFile(filepath.Join(work, "parallax.toml"), []byte(project), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARALLAX_MAX_PARALLEL", "8")
	t.Setenv("PARALLAX_BACKEND", "container")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cws, err := LoadWithSources(fs, []string{"--max-parallel", "2", "-o", "plan.yaml", "run", "a.md"})
	if err != nil {
		t.Fatalf("LoadWithSources: %v", err)
	}
	cfg := cws.Config

	tests := []struct {
		key    string
		got    interface{}
		want   interface{}
		source ConfigSource
	}{
		{"probe.max_concurrency", cfg.Probe.MaxConcurrency, 6, SourceUserFile},
		{"max_group_size", cfg.MaxGroupSize, 3, SourceProjFile},
		{"timeout", cfg.Timeout, 5 * time.Minute, SourceProjFile},
		{"container.retries", cfg.Container.Retries, 1, SourceProjFile},
		{"backend", cfg.Backend, BackendContainer, SourceEnv},
		{"max_parallel", cfg.MaxParallel, 2, SourceFlag},
		{"output", cfg.Output, filepath.Join(work, "plan.yaml"), SourceFlag},
		{"max_descriptors", cfg.MaxDescriptors, DefaultMaxDescriptors, SourceDefault},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("value: got %v, want %v", tt.got, tt.want)
			}
			if got := cws.Source(tt.key); got != tt.source {
				t.Errorf("source: got %q, want %q", got, tt.source)
			}
		})
	}

	if rest := fs.Args(); len(rest) != 2 || rest[0] != "run" {
		t.Errorf("expected positional args to be left, got %v", rest)
	}
	if len(cws.Files) != 2 {
		t.Errorf("expected 2 config files, got %v", cws.Files)
	}
	if cfg.TaskDir != filepath.Join(work, DefaultTaskDir) {
		t.Errorf("TaskDir should be absolute under the project root, got %q", cfg.TaskDir)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	work := isolate(t)
	if err := os.WriteFile(filepath.Join(work, ".parallax.toml"), []byte("max_paralel = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	if err == nil || !strings.Contains(err.Error(), "max_paralel") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestExampleConfigDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parallax.toml")
	if err := os.WriteFile(path, []byte(ExampleConfig()), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{}
	setDefaults(cfg)
	want := *cfg
	if err := loadConfigFile(cfg, path, nil, SourceProjFile); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.Timeout != want.Timeout || cfg.Probe != want.Probe || cfg.Container.RetryBackoff != want.Container.RetryBackoff {
		t.Errorf("example config should mirror defaults\n got: %+v\nwant: %+v", cfg, want)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PARALLAX_TIMEOUT", "90s")
	t.Setenv("PARALLAX_ARGS", "--model, opus ,")
	t.Setenv("PARALLAX_LOG_CALLER", "yes")
	t.Setenv("PARALLAX_MAX_GROUP_SIZE", "6")

	cfg := &Config{}
	setDefaults(cfg)
	sources := map[string]ConfigSource{}
	if err := loadFromEnv(cfg, sources); err != nil {
		t.Fatalf("loadFromEnv: %v", err)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout: got %v", cfg.Timeout)
	}
	if !reflect.DeepEqual(cfg.Process.Args, []string{"--model", "opus"}) {
		t.Errorf("Process.Args: got %v", cfg.Process.Args)
	}
	if !cfg.LogCaller {
		t.Error("LogCaller: expected true")
	}
	if cfg.MaxGroupSize != 6 {
		t.Errorf("MaxGroupSize: got %d", cfg.MaxGroupSize)
	}
	if sources["process.args"] != SourceEnv {
		t.Errorf("expected env source for process.args, got %q", sources["process.args"])
	}

	t.Setenv("PARALLAX_MAX_PARALLEL", "lots")
	if err := loadFromEnv(cfg, nil); err == nil {
		t.Error("expected error for malformed PARALLAX_MAX_PARALLEL")
	}
}

func TestParseFlags(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	args := []string{
		"--task-dir", "prompts",
		"--verbose",
		"--backend", "process",
		"--timeout", "2m",
		"--args", "--model,sonnet",
	}
	if err := parseFlags(cfg, fs, args, nil); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	if cfg.TaskDir != "prompts" {
		t.Errorf("TaskDir: got %q", cfg.TaskDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want debug", cfg.LogLevel)
	}
	if cfg.Backend != BackendProcess {
		t.Errorf("Backend: got %q", cfg.Backend)
	}
	if cfg.Timeout != 2*time.Minute {
		t.Errorf("Timeout: got %v", cfg.Timeout)
	}
	if !reflect.DeepEqual(cfg.Process.Args, []string{"--model", "sonnet"}) {
		t.Errorf("Process.Args: got %v", cfg.Process.Args)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"backend", func(c *Config) { c.Backend = "vm" }, "backend"},
		{"group size", func(c *Config) { c.MaxGroupSize = 0 }, "max_group_size"},
		{"timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"trace", func(c *Config) { c.TraceExporter = "jaeger" }, "trace_exporter"},
		{"ui", func(c *Config) { c.UI = "web" }, "ui"},
		{"extensions", func(c *Config) { c.AllowedExtensions = nil }, "allowed_extensions"},
		{"binary", func(c *Config) { c.Process.Binary = "" }, "process.binary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("expected error mentioning %q, got %v", tt.substr, err)
			}
		})
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := normalizeExtensions([]string{"MD", ".txt", " .md ", ""})
	want := []string{".md", ".txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}
	t.Setenv("PARALLAX_TEST_DIR", "logs")

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"~", home},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
		{"$PARALLAX_TEST_DIR/run", "logs/run"},
	}
	if runtime.GOOS == "windows" {
		tests = append(tests, struct {
			input string
			want  string
		}{`%PARALLAX_TEST_DIR%\x`, `logs\x`})
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.want {
				t.Errorf("expandPath(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
