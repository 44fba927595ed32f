package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tonysoukkeo/eshopwatch/pkg/catalog"
)

// Scheduler runs full catalog syncs on a fixed interval.
type Scheduler struct {
	engine   *catalog.Engine
	interval time.Duration
}

// New creates a new scheduler.
func New(engine *catalog.Engine, interval time.Duration) *Scheduler {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled. A failed
// sync is logged and the loop keeps going; reconciliation is idempotent,
// so the next run heals whatever the failed one left stale.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	fmt.Fprintln(os.Stderr, "scheduler: initial sync...")
	s.syncOnce(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (sync every %s)\n", s.interval)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprintln(os.Stderr, "scheduler: syncing...")
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	start := time.Now()
	summary, err := s.engine.ReconcileAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  sync error: %v\n", err)
	}
	if out := summary.String(); out != "" {
		fmt.Fprintf(os.Stderr, "  %s (%s)\n", out, time.Since(start).Round(time.Second))
	}
}
