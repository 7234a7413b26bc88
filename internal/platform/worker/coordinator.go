package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ReloadMode selects how a Coordinator reacts to a detected configuration
// change between loop iterations.
type ReloadMode string

const (
	// ReloadNextRun calls OnReload at the top of the iteration in which
	// CheckReload reports a change, before that iteration's Process call.
	ReloadNextRun ReloadMode = "next-run"

	// ReloadInPlace also calls OnReload as soon as CheckReload reports a
	// change. CheckReload runs only at the top of each iteration, so the
	// call happens at the same point as for ReloadNextRun.
	ReloadInPlace ReloadMode = "inplace"

	// ReloadStopProcess does not apply the change in-process at all;
	// it returns ErrReloadStop from the loop so a process supervisor
	// restarts the binary with the new configuration.
	ReloadStopProcess ReloadMode = "stop-process"
)

// ErrReloadStop is returned by Coordinator.Run when ReloadStopProcess
// fires, signaling the caller (main) to exit rather than retry.
var ErrReloadStop = errors.New("worker: configuration changed, stop-process reload requested")

// Heartbeater is the narrow persistence capability a Coordinator needs
// (storage.DB.Heartbeat), kept as an interface so this package does not
// import internal/storage.
type Heartbeater interface {
	Heartbeat(ctx context.Context, serviceType, hostname, status string, metadata []byte) error
}

// CoordinatorConfig configures a Coordinator on top of the plain Loop
// abstraction (worker.go's Config), adding the ServiceStatus heartbeat
// and config hot-reload modes spec.md §4.8 names.
type CoordinatorConfig struct {
	Loop Config

	Store       Heartbeater
	ServiceType string
	Hostname    string
	// HeartbeatInterval is how often Heartbeat is written; defaults to
	// Loop.PollInterval when zero.
	HeartbeatInterval time.Duration

	// ReloadMode selects the hot-reload behavior; defaults to ReloadNextRun.
	ReloadMode ReloadMode

	// CheckReload reports whether configuration changed since the last
	// check (e.g. comparing a file mtime or a config hash). A nil
	// CheckReload disables reload checking entirely.
	CheckReload func(ctx context.Context) (bool, error)

	// OnReload applies a detected change. For both ReloadNextRun and
	// ReloadInPlace it runs at the top of the iteration that detected the
	// change, before Process.
	OnReload func(ctx context.Context) error
}

// Coordinator runs a worker Loop with ServiceStatus heartbeats and
// config hot-reload layered on top (spec.md §4.8).
type Coordinator struct {
	cfg     CoordinatorConfig
	stopped atomic.Bool
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.ReloadMode == "" {
		cfg.ReloadMode = ReloadNextRun
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.Loop.PollInterval
	}

	return &Coordinator{cfg: cfg}
}

// Run starts the underlying Loop, writing heartbeats on a periodic task
// and checking for configuration changes on every iteration. It returns
// ErrReloadStop (wrapped) when ReloadStopProcess fires.
func (c *Coordinator) Run(ctx context.Context) error {
	loopCfg := c.cfg.Loop

	logger := loopCfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.cfg.Store != nil && c.cfg.ServiceType != "" {
		loopCfg.PeriodicTasks = append(loopCfg.PeriodicTasks, PeriodicTask{
			Name:     "heartbeat",
			Interval: c.cfg.HeartbeatInterval,
			Run: func(taskCtx context.Context) {
				if err := c.cfg.Store.Heartbeat(taskCtx, c.cfg.ServiceType, c.cfg.Hostname, "running", nil); err != nil {
					logger.Warn().Err(err).Str("service_type", c.cfg.ServiceType).Msg("heartbeat write failed")
				}
			},
		})
	}

	innerProcess := loopCfg.Process
	loopCfg.Process = func(procCtx context.Context) error {
		if err := c.checkReload(procCtx, cancel, logger); err != nil {
			return err
		}

		if innerProcess == nil {
			return nil
		}

		return innerProcess(procCtx)
	}

	if c.cfg.Store != nil && c.cfg.ServiceType != "" {
		outerOnStop := loopCfg.OnStop
		loopCfg.OnStop = func() {
			if outerOnStop != nil {
				outerOnStop()
			}

			_ = c.cfg.Store.Heartbeat(context.Background(), c.cfg.ServiceType, c.cfg.Hostname, "stopped", nil)
		}
	}

	err := Loop(innerCtx, loopCfg)
	if c.stopped.Load() {
		return fmt.Errorf("%w: %v", ErrReloadStop, err)
	}

	return err
}

func (c *Coordinator) checkReload(ctx context.Context, cancel context.CancelFunc, logger *zerolog.Logger) error {
	if c.cfg.CheckReload == nil {
		return nil
	}

	changed, err := c.cfg.CheckReload(ctx)
	if err != nil {
		return fmt.Errorf("check reload: %w", err)
	}

	if !changed {
		return nil
	}

	switch c.cfg.ReloadMode {
	case ReloadStopProcess:
		logger.Info().Msg("configuration changed, stopping for process restart")
		c.stopped.Store(true)
		cancel()

		return nil
	case ReloadInPlace:
		logger.Info().Msg("configuration changed, applying in place")

		if c.cfg.OnReload != nil {
			return c.cfg.OnReload(ctx)
		}

		return nil
	case ReloadNextRun:
		fallthrough
	default:
		logger.Info().Msg("configuration changed, applying at next run")

		if c.cfg.OnReload != nil {
			return c.cfg.OnReload(ctx)
		}

		return nil
	}
}
