// Package watchdog implements the calling-layer timeout policy the
// orchestration core deliberately does not have: runs that never receive
// all commis completions stay waiting until a sweep force-fails them.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"oikos/concierge/internal/concierge"
)

// Config controls the sweep schedule.
type Config struct {
	// Interval is how often the sweep runs.
	Interval time.Duration

	// WaitingDeadline is how long a run may stay waiting before it is
	// force-failed.
	WaitingDeadline time.Duration
}

// Watchdog periodically fails runs stuck in waiting past the deadline.
type Watchdog struct {
	orch   *concierge.Orchestrator
	cfg    Config
	logger *zap.Logger
	sched  gocron.Scheduler
}

// New creates a watchdog over orch.
func New(orch *concierge.Orchestrator, cfg Config, logger *zap.Logger) (*Watchdog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	w := &Watchdog{
		orch:   orch,
		cfg:    cfg,
		logger: logger,
		sched:  sched,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(w.Sweep),
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Start begins the sweep schedule.
func (w *Watchdog) Start() {
	w.sched.Start()
}

// Stop shuts the schedule down.
func (w *Watchdog) Stop() error {
	return w.sched.Shutdown()
}

// Sweep force-fails every run that has been waiting longer than the
// deadline and returns how many it failed.
func (w *Watchdog) Sweep() int {
	stuck := w.orch.StuckWaiting(w.cfg.WaitingDeadline)
	failed := 0

	ctx := context.Background()
	for _, runID := range stuck {
		reason := fmt.Sprintf("watchdog: run exceeded waiting deadline of %s", w.cfg.WaitingDeadline)
		if err := w.orch.ForceFail(ctx, runID, reason); err != nil {
			w.logger.Error("watchdog force-fail", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		failed++
		w.logger.Warn("watchdog failed stuck run", zap.String("run_id", runID))
	}
	return failed
}
