package backend

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nibzard/parallax/internal/config"
	"github.com/nibzard/parallax/internal/logging"
)

// pingTimeout bounds runtime detection at startup.
const pingTimeout = 5 * time.Second

// newRuntime is replaced in tests.
var newRuntime = func() (Runtime, error) { return NewDockerRuntime() }

// New selects and constructs the backend named by cfg.Backend. "auto"
// prefers the container runtime when it answers a ping and falls back to a
// subprocess otherwise. Selection happens once; the returned backend is used
// for every task of the run.
func New(ctx context.Context, cfg *config.Config, gen CommandGenerator, logger *log.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	switch cfg.Backend {
	case config.BackendContainer:
		b, err := newContainerBackend(ctx, cfg, gen, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
		}
		return b, nil
	case config.BackendProcess:
		b, err := newProcessBackend(cfg, gen, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
		}
		return b, nil
	case config.BackendAuto, "":
		b, err := newContainerBackend(ctx, cfg, gen, logger)
		if err == nil {
			return b, nil
		}
		logger.Info("container runtime not available, using process backend", "err", err)
		p, perr := newProcessBackend(cfg, gen, logger)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoBackend, errors.Join(err, perr))
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrNoBackend, cfg.Backend)
	}
}

func newContainerBackend(ctx context.Context, cfg *config.Config, gen CommandGenerator, logger *log.Logger) (*ContainerBackend, error) {
	rt, err := newRuntime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	b, err := NewContainer(pingCtx, rt, gen, ContainerOptions{
		Image:           cfg.Container.Image,
		CPUs:            cfg.Container.CPUs,
		MemoryMB:        cfg.Container.MemoryMB,
		Network:         cfg.Container.Network,
		AutomationFlags: cfg.Container.AutomationFlags,
		GracePeriod:     cfg.Container.GracePeriod,
		Retries:         cfg.Container.Retries,
		RetryBackoff:    cfg.Container.RetryBackoff,
		Logger:          logger.WithPrefix("container"),
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return b, nil
}

func newProcessBackend(cfg *config.Config, gen CommandGenerator, logger *log.Logger) (*ProcessBackend, error) {
	if _, err := exec.LookPath(cfg.Process.Binary); err != nil {
		return nil, fmt.Errorf("task binary %q not found: %w", cfg.Process.Binary, err)
	}
	return NewProcess(gen, ProcessOptions{
		GracePeriod: cfg.Process.GracePeriod,
		Logger:      logger.WithPrefix("process"),
	}), nil
}
