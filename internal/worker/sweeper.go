package worker

import (
	"context"
	"time"

	"loft/internal/domain"

	"github.com/rs/zerolog"
)

// LockSweeper purges expired reservation locks. Expiry is already enforced
// on acquire, sweeping only keeps the lock table small.
type LockSweeper struct {
	purger   domain.LockPurger
	interval time.Duration
	logger   *zerolog.Logger
}

func NewLockSweeper(purger domain.LockPurger, interval time.Duration, logger *zerolog.Logger) *LockSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LockSweeper{purger: purger, interval: interval, logger: logger}
}

func (s *LockSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge and returns the number of removed locks.
func (s *LockSweeper) Sweep(ctx context.Context) int64 {
	n, err := s.purger.PurgeExpiredLocks(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to purge expired locks")
		return 0
	}
	if n > 0 {
		s.logger.Debug().Int64("purged", n).Msg("expired reservation locks purged")
	}
	return n
}
