package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from multiple sources in priority order:
// 1. Defaults
// 2. User config file (~/.parallax/parallax.toml or OS-specific config dir)
// 3. Project config file (parallax.toml or .parallax.toml in current directory)
// 4. Environment variables
// 5. CLI flags
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cws, err := LoadWithSources(fs, args)
	if err != nil {
		return nil, err
	}
	return cws.Config, nil
}

// LoadWithSources loads configuration and tracks the source of each value.
// Source keys are the TOML key paths, e.g. "probe.interval".
func LoadWithSources(fs *flag.FlagSet, args []string) (*ConfigWithSources, error) {
	cws := &ConfigWithSources{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}
	cfg := cws.Config

	// 1. Set defaults
	setDefaults(cfg)

	// 2. User config file
	if path := findUserConfigFile(); path != "" {
		if err := loadConfigFile(cfg, path, cws.Sources, SourceUserFile); err != nil {
			return nil, fmt.Errorf("loading user config file %s: %w", path, err)
		}
		cws.Files = append(cws.Files, path)
	}

	// 3. Project config file (overrides user config)
	if path := findProjectConfigFile(); path != "" {
		if err := loadConfigFile(cfg, path, cws.Sources, SourceProjFile); err != nil {
			return nil, fmt.Errorf("loading project config file %s: %w", path, err)
		}
		cws.Files = append(cws.Files, path)
	}

	// 4. Override from environment
	if err := loadFromEnv(cfg, cws.Sources); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	// 5. Parse CLI flags (they override everything)
	if err := parseFlags(cfg, fs, args, cws.Sources); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// 6. Compute derived values
	if err := finalizeConfig(cfg); err != nil {
		return nil, fmt.Errorf("finalizing config: %w", err)
	}

	return cws, nil
}

// Source returns where the value for key came from.
func (cws *ConfigWithSources) Source(key string) ConfigSource {
	if s, ok := cws.Sources[key]; ok {
		return s
	}
	return SourceDefault
}

// loadConfigFile decodes the TOML file at path over cfg. Keys present in the
// file are recorded in sources when sources is non-nil.
func loadConfigFile(cfg *Config, path string, sources map[string]ConfigSource, source ConfigSource) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if sources != nil {
		for _, key := range md.Keys() {
			sources[key.String()] = source
		}
	}
	return nil
}

// finalizeConfig computes derived values and validates the result.
func finalizeConfig(cfg *Config) error {
	if cfg.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		cfg.ProjectRoot = wd
	}

	cfg.LogDir = expandPath(cfg.LogDir)
	cfg.TaskDir = absUnder(cfg.ProjectRoot, expandPath(cfg.TaskDir))
	if cfg.Output != "" {
		cfg.Output = absUnder(cfg.ProjectRoot, expandPath(cfg.Output))
	}
	if cfg.Worktree.Root != "" {
		cfg.Worktree.Root = absUnder(cfg.ProjectRoot, expandPath(cfg.Worktree.Root))
	}
	if cfg.PromptTemplate != "" {
		cfg.PromptTemplate = absUnder(cfg.ProjectRoot, expandPath(cfg.PromptTemplate))
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.TraceExporter))
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)

	return cfg.Validate()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendProcess, BackendContainer:
	default:
		return fmt.Errorf("backend must be one of auto, process, container: got %q", c.Backend)
	}
	switch c.TraceExporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("trace_exporter must be none or stdout: got %q", c.TraceExporter)
	}
	switch c.UI {
	case "", "tui":
	default:
		return fmt.Errorf("ui must be empty or tui: got %q", c.UI)
	}
	if c.MaxGroupSize < 1 {
		return fmt.Errorf("max_group_size must be at least 1: got %d", c.MaxGroupSize)
	}
	if c.MaxDescriptors < 1 {
		return fmt.Errorf("max_descriptors must be at least 1: got %d", c.MaxDescriptors)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: got %s", c.Timeout)
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions must not be empty")
	}
	if c.Probe.MaxConcurrency < 1 {
		return fmt.Errorf("probe.max_concurrency must be at least 1: got %d", c.Probe.MaxConcurrency)
	}
	if c.Process.Binary == "" {
		return fmt.Errorf("process.binary must not be empty")
	}
	if c.Container.Retries < 0 {
		return fmt.Errorf("container.retries must not be negative: got %d", c.Container.Retries)
	}
	return nil
}

func absUnder(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}
