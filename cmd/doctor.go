package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/nibzard/parallax/internal/backend"
	"github.com/nibzard/parallax/internal/config"
	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/probe"
	"github.com/nibzard/parallax/internal/prompts"
)

// Swapped out in tests.
var (
	pingContainerRuntime = func(ctx context.Context) error {
		rt, err := backend.NewDockerRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return rt.Ping(ctx)
	}
	newDoctorSampler = func(cfg *config.Config) probe.Sampler {
		return probe.NewHostSampler(cfg.Probe.DiskPath)
	}
)

// doctorCommand checks configuration, descriptors, backends, and the host.
func doctorCommand(ctx context.Context, cws *config.ConfigWithSources, args []string) error {
	fs := flag.NewFlagSet("parallax doctor", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return runDoctor(ctx, os.Stdout, cws, *verbose)
}

func runDoctor(ctx context.Context, w io.Writer, cws *config.ConfigWithSources, verbose bool) error {
	cfg := cws.Config

	fmt.Fprintln(w, "Parallax Doctor")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w)

	allOK := true

	fmt.Fprintf(w, "Project root: %s\n", cfg.ProjectRoot)
	if len(cws.Files) == 0 {
		fmt.Fprintln(w, "  Config files: none (defaults and environment)")
	}
	for _, f := range cws.Files {
		fmt.Fprintf(w, "  Config file: %s\n", f)
	}
	if verbose {
		for _, key := range []string{"task_dir", "backend", "max_parallel", "timeout", "process.binary", "container.image"} {
			fmt.Fprintf(w, "  %s: %s\n", key, cws.Source(key))
		}
	}
	fmt.Fprintln(w)

	// Descriptors
	fmt.Fprintf(w, "Task directory: %s\n", cfg.TaskDir)
	if info, err := os.Stat(cfg.TaskDir); err != nil {
		fmt.Fprintf(w, "  ❌ Error: %v\n", err)
		allOK = false
	} else if !info.IsDir() {
		fmt.Fprintln(w, "  ❌ Error: path is not a directory")
		allOK = false
	} else {
		a, err := newAnalyzer(cfg, logging.Discard())
		if err != nil {
			fmt.Fprintf(w, "  ❌ Error: %v\n", err)
			allOK = false
		} else if paths, err := a.Discover(); err != nil {
			fmt.Fprintf(w, "  ❌ Error: %v\n", err)
			allOK = false
		} else {
			fmt.Fprintf(w, "  ✅ %d descriptors (limit %d)\n", len(paths), cfg.MaxDescriptors)
			if len(paths) > cfg.MaxDescriptors {
				fmt.Fprintln(w, "  ⚠️  More descriptors than a single run accepts")
			}
			if verbose {
				for _, p := range paths {
					rel, err := filepath.Rel(cfg.TaskDir, p)
					if err != nil {
						rel = p
					}
					fmt.Fprintf(w, "    - %s\n", rel)
				}
			}
		}
	}
	fmt.Fprintln(w)

	// Prompt template
	if cfg.PromptTemplate == "" {
		fmt.Fprintln(w, "Prompt template: built-in")
	} else {
		fmt.Fprintf(w, "Prompt template: %s\n", cfg.PromptTemplate)
	}
	if _, err := prompts.LoadRenderer(cfg.PromptTemplate); err != nil {
		fmt.Fprintf(w, "  ❌ %v\n", err)
		allOK = false
	} else {
		fmt.Fprintln(w, "  ✅ OK")
	}
	fmt.Fprintln(w)

	// Backends
	fmt.Fprintf(w, "Backends (selected: %s):\n", cfg.Backend)
	processOK := checkBinary(w, "process binary", cfg.Process.Binary, cfg.Backend == config.BackendProcess)
	if !processOK {
		allOK = false
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	containerErr := pingContainerRuntime(pingCtx)
	cancel()
	fmt.Fprintf(w, "  container runtime (image %s)\n", cfg.Container.Image)
	switch {
	case containerErr == nil:
		fmt.Fprintln(w, "  ✅ OK")
	case cfg.Backend == config.BackendContainer:
		fmt.Fprintf(w, "  ❌ Unavailable: %v\n", containerErr)
		allOK = false
	default:
		fmt.Fprintf(w, "  ⚠️  Unavailable: %v\n", containerErr)
	}
	if cfg.Backend == config.BackendAuto && containerErr != nil && !binaryAvailable(cfg.Process.Binary) {
		fmt.Fprintln(w, "  ❌ No backend available")
		allOK = false
	}
	fmt.Fprintln(w)

	// Host resources
	fmt.Fprintln(w, "Host resources:")
	p := probe.New(newDoctorSampler(cfg), probeOptions(cfg))
	snap, err := p.Sample(ctx)
	if err != nil {
		fmt.Fprintf(w, "  ⚠️  Sampling failed: %v\n", err)
	} else {
		fmt.Fprintf(w, "  CPU: %d cores, %.0f%% busy, load %.2f %.2f %.2f\n",
			snap.CPUCount, snap.CPUPercent, snap.LoadAverage[0], snap.LoadAverage[1], snap.LoadAverage[2])
		fmt.Fprintf(w, "  Memory: %.0f%% used, %.1f GB available\n", snap.MemoryPercent, snap.AvailableMemoryGB)
		fmt.Fprintf(w, "  Disk: %.0f%% used\n", snap.DiskPercent)
		if p.IsOverloaded() {
			fmt.Fprintln(w, "  ⚠️  Host is overloaded; tasks will run one at a time")
		} else {
			fmt.Fprintln(w, "  ✅ OK")
		}
		fmt.Fprintf(w, "  Admitted concurrency: %d\n", p.OptimalConcurrency())
	}
	fmt.Fprintln(w)

	// Log directory
	fmt.Fprintf(w, "Log directory: %s\n", cfg.LogDir)
	if _, err := os.Stat(cfg.LogDir); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "  ⚠️  Not found (will be created on run)")
		} else {
			fmt.Fprintf(w, "  ❌ Error: %v\n", err)
			allOK = false
		}
	} else {
		fmt.Fprintln(w, "  ✅ OK")
	}
	fmt.Fprintln(w)

	if allOK {
		fmt.Fprintln(w, "✅ All checks passed!")
		return nil
	}
	fmt.Fprintln(w, "⚠️  Some checks failed. Parallax may not function correctly.")
	return fmt.Errorf("doctor checks failed")
}

func binaryAvailable(binary string) bool {
	if strings.TrimSpace(binary) == "" {
		return false
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

func checkBinary(w io.Writer, label, binary string, required bool) bool {
	fmt.Fprintf(w, "  %s: %s\n", label, binary)
	if strings.TrimSpace(binary) == "" {
		if required {
			fmt.Fprintln(w, "  ❌ Not configured")
			return false
		}
		fmt.Fprintln(w, "  ⚠️  Not configured")
		return true
	}
	if info, err := os.Stat(binary); err == nil {
		if info.IsDir() {
			if required {
				fmt.Fprintln(w, "  ❌ Path is a directory")
				return false
			}
			fmt.Fprintln(w, "  ⚠️  Path is a directory")
			return true
		}
		if !isExecutablePath(binary, info) {
			if required {
				fmt.Fprintln(w, "  ❌ Not executable")
				return false
			}
			fmt.Fprintln(w, "  ⚠️  Not executable")
			return true
		}
		fmt.Fprintln(w, "  ✅ OK")
		return true
	}

	resolved, err := exec.LookPath(binary)
	if err == nil {
		fmt.Fprintf(w, "  ✅ OK (found in PATH: %s)\n", resolved)
		return true
	}

	if required {
		fmt.Fprintf(w, "  ❌ Not found: %v\n", err)
		return false
	}
	fmt.Fprintf(w, "  ⚠️  Not found: %v\n", err)
	return true
}

func isExecutablePath(path string, info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if runtime.GOOS == "windows" {
		return isWindowsExecutable(path)
	}
	return info.Mode().Perm()&0111 != 0
}

func isWindowsExecutable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	pathext := os.Getenv("PATHEXT")
	if pathext == "" {
		pathext = ".COM;.EXE;.BAT;.CMD"
	}
	for _, e := range strings.Split(pathext, ";") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e == ext {
			return true
		}
	}
	return false
}
