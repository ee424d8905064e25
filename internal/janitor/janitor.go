// Package janitor runs scheduled background maintenance: sweeping
// rolled-over local rate windows and checking shared-store health. The
// backing stores already evict lazily; the sweep keeps idle keys from
// accumulating between requests.
package janitor

import (
	"github.com/robfig/cron/v3"

	"clinic-gateway/internal/common/logging"
	"clinic-gateway/internal/ratelimit"
)

// HealthChecker reports shared-store reachability.
type HealthChecker interface {
	Health() error
}

// Janitor owns the cron schedule for background maintenance.
type Janitor struct {
	cron     *cron.Cron
	counters *ratelimit.LocalCounter
	health   HealthChecker
}

// New creates a janitor. Either argument may be nil when the
// corresponding backend is not in use.
func New(counters *ratelimit.LocalCounter, health HealthChecker) *Janitor {
	return &Janitor{
		cron:     cron.New(),
		counters: counters,
		health:   health,
	}
}

// Start registers the sweep on the given cron spec and starts the
// scheduler.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop stops the scheduler, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	if j.counters != nil {
		if removed := j.counters.Sweep(); removed > 0 {
			logging.Debug("swept expired rate windows", logging.Int("removed", removed))
		}
	}
	if j.health != nil {
		if err := j.health.Health(); err != nil {
			logging.Warn("shared store unhealthy", logging.Any("error", err))
		}
	}
}
