// Package maintenance runs the periodic cleanup sweep: old media files and
// terminal permission records past their retention window.
package maintenance

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// Pruner removes entries older than cutoff and reports how many went.
type Pruner interface {
	PruneOlderThan(cutoff time.Time) (int, error)
}

// Sweeper evaluates a cron schedule once a minute and prunes each target
// when it is due.
type Sweeper struct {
	schedule  string
	retention time.Duration
	targets   map[string]Pruner
	gron      *gronx.Gronx
}

func NewSweeper(schedule string, retention time.Duration) *Sweeper {
	return &Sweeper{
		schedule:  schedule,
		retention: retention,
		targets:   make(map[string]Pruner),
		gron:      gronx.New(),
	}
}

func (s *Sweeper) AddTarget(name string, p Pruner) {
	s.targets[name] = p
}

// Run blocks until ctx is done. Invalid schedules are reported once and the
// sweeper exits rather than spinning.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.gron.IsValid(s.schedule) {
		logger.ErrorCF("maintenance", "invalid cleanup schedule", map[string]any{
			"schedule": s.schedule,
		})
		return
	}
	logger.InfoCF("maintenance", "sweeper started", map[string]any{
		"schedule":  s.schedule,
		"retention": s.retention.String(),
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			due, err := s.gron.IsDue(s.schedule, tick)
			if err != nil || !due {
				continue
			}
			s.sweep(tick)
		}
	}
}

func (s *Sweeper) sweep(now time.Time) {
	cutoff := now.Add(-s.retention)
	for name, target := range s.targets {
		removed, err := target.PruneOlderThan(cutoff)
		if err != nil {
			logger.WarnCF("maintenance", "prune failed", map[string]any{
				"target": name, "error": err.Error(),
			})
			continue
		}
		if removed > 0 {
			logger.InfoCF("maintenance", "pruned", map[string]any{
				"target": name, "removed": removed,
			})
		}
	}
}
