package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// findProjectConfigFile looks for a config file in the current directory.
func findProjectConfigFile() string {
	for _, name := range []string{"parallax.toml", ".parallax.toml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// findUserConfigFile looks for a user-level config file.
// Checks ~/.parallax/parallax.toml first, then falls back to OS-specific
// config directories.
func findUserConfigFile() string {
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".parallax", "parallax.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if cfgDir := osUserConfigDir(); cfgDir != "" {
		p := filepath.Join(cfgDir, "parallax", "parallax.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// osUserConfigDir returns the OS-specific user config directory.
// Returns empty string if the directory cannot be determined.
func osUserConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return appdata
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support")
		}
	case "linux", "openbsd", "freebsd", "netbsd":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return xdg
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".config")
		}
	}
	return ""
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	cfg.TaskDir = DefaultTaskDir
	cfg.Output = DefaultOutput
	cfg.LogDir = DefaultLogDir
	cfg.MaxParallel = 0
	cfg.MaxGroupSize = DefaultMaxGroupSize
	cfg.Timeout = DefaultTimeout
	cfg.Backend = BackendAuto

	cfg.MaxDescriptors = DefaultMaxDescriptors
	cfg.MaxDescriptorBytes = DefaultMaxDescriptorBytes
	cfg.AllowedExtensions = DefaultAllowedExtensions()
	cfg.ImplementedMarker = DefaultImplementedMarker
	cfg.ImportNamespace = "src"

	cfg.TraceExporter = "none"
	cfg.LogLevel = "info"
	cfg.LogFormat = "text"

	cfg.Probe = ProbeConfig{
		Interval:             30 * time.Second,
		HistorySize:          60,
		CPUThreshold:         90,
		MemoryThreshold:      85,
		DiskThreshold:        95,
		MinAvailableMemoryGB: 1,
		LoadFactor:           2,
		MemoryPerTaskGB:      2,
		MaxConcurrency:       4,
		DiskPath:             "/",
	}
	cfg.Process = ProcessConfig{
		Binary:      DefaultBinary,
		GracePeriod: 10 * time.Second,
	}
	cfg.Container = ContainerConfig{
		Image:        DefaultImage,
		CPUs:         2,
		MemoryMB:     4096,
		Network:      "bridge",
		GracePeriod:  10 * time.Second,
		Retries:      3,
		RetryBackoff: 2 * time.Second,
		AutomationFlags: []string{
			"--dangerously-skip-permissions",
			"--output-format", "json",
		},
	}
	cfg.Worktree = WorktreeConfig{
		Root:   "worktrees",
		Create: true,
	}
}
