package core

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired plans are dropped.
const DefaultSweepInterval = time.Minute

// StartPlanSweeper drops expired plans every interval until ctx is
// cancelled. Lookups already ignore expired plans; the sweeper only frees
// their memory.
func (s *Service) StartPlanSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("plan sweeper started", "interval", interval, "plan_ttl", s.planTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("plan sweeper stopped")
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				slog.Info("expired plans dropped", "plans", n)
			}
		}
	}
}

// SweepExpired removes expired plans and returns how many were removed.
func (s *Service) SweepExpired() int {
	now := s.now()
	s.plansMu.Lock()
	removed := 0
	for id, p := range s.plans {
		if !now.Before(p.expires) {
			delete(s.plans, id)
			removed++
		}
	}
	n := len(s.plans)
	s.plansMu.Unlock()
	s.metrics.setPending(n)
	return removed
}
