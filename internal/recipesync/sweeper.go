package recipesync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/cache"
	"dapurstok/backend/internal/domain"
)

const sweepLockKey = "dapurstok:lock:health-sweep"

// Sweeper runs the health check on a fixed interval. The lock keeps several
// instances from sweeping at the same time.
type Sweeper struct {
	engine   *Engine
	locker   cache.Locker
	interval time.Duration
	lockTTL  time.Duration
	storeID  string
	log      logrus.FieldLogger
}

func NewSweeper(engine *Engine, locker cache.Locker, interval time.Duration, storeID string, log logrus.FieldLogger) *Sweeper {
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		engine:   engine,
		locker:   locker,
		interval: interval,
		lockTTL:  interval,
		storeID:  storeID,
		log:      log.WithField("component", "sweeper"),
	}
}

// RunOnce sweeps if no other instance holds the lock. ran is false when the
// lock was taken.
func (s *Sweeper) RunOnce(ctx context.Context) (report domain.HealthReport, ran bool, err error) {
	release, ok, err := s.locker.Acquire(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		return report, false, err
	}
	if !ok {
		s.log.Debug("sweep skipped, another instance holds the lock")
		return report, false, nil
	}
	defer release()

	report, err = s.engine.RunHealthCheckAndRepair(ctx, s.storeID)
	return report, true, err
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("health sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
