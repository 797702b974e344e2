package ingest

import (
	"context"
	"errors"
	"time"

	"passlog/lifecycle"
	"passlog/logger"
	"passlog/store"
)

// Sweeper disconnects started suites that have been silent for longer than
// the disconnect timeout.
type Sweeper struct {
	service  *Service
	timeout  time.Duration
	interval time.Duration
}

// NewSweeper returns a sweeper checking every interval.
func NewSweeper(service *Service, timeout, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		timeout:  timeout,
		interval: interval,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) error {
	logger.Logger.Info().Dur("timeout", sw.timeout).Dur("interval", sw.interval).Msg("sweeper started")
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.tick(ctx)
	for {
		select {
		case <-ticker.C:
			sw.tick(ctx)
		case <-ctx.Done():
			logger.Logger.Info().Msg("sweeper stopped")
			return nil
		}
	}
}

func (sw *Sweeper) tick(ctx context.Context) {
	n, err := sw.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		logger.Logger.Info().Int("disconnected", n).Msg("sweep disconnected idle suites")
	}
}

// Sweep checks every started suite once and returns how many it disconnected.
// Suites not seen before are seeded with the current time.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	started, err := sw.service.store.ListSuitesByStatus(ctx, lifecycle.SuiteStarted)
	if err != nil {
		return 0, err
	}

	activity := sw.service.activity
	now := sw.service.now()
	cutoff := now.Add(-sw.timeout)
	open := make(map[string]bool, len(started))
	disconnected := 0

	for _, suite := range started {
		open[suite.ID] = true
		lastSeen, ok := activity.LastSeen(suite.ID)
		if !ok {
			activity.Seed(suite.ID, now)
			continue
		}
		if !lastSeen.Before(cutoff) {
			continue
		}

		_, changed, err := sw.service.disconnect(ctx, suite.ID, cutoff)
		if errors.Is(err, store.ErrNotFound) {
			activity.Forget(suite.ID)
			continue
		}
		if err != nil {
			return disconnected, err
		}
		if !changed {
			continue
		}
		logger.Logger.Warn().
			Str("suite_id", suite.ID).
			Time("last_seen", lastSeen).
			Msg("suite idle past disconnect timeout")
		disconnected++
	}

	for _, id := range activity.IDs() {
		if !open[id] {
			activity.Forget(id)
		}
	}
	return disconnected, nil
}
