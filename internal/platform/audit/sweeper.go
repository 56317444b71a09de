package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Purger deletes entries older than a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes entries older than the retention horizon.
type Sweeper struct {
	store     Purger
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSweeper(store Purger, retentionDays int, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With().Str("component", "audit-sweeper").Logger(),
		now:       time.Now,
	}
}

// SweepOnce deletes everything older than the horizon and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("audit retention sweep failed")
		return 0, err
	}
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("audit retention sweep")
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_, _ = s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}
