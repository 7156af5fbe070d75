package broker

import (
	"context"
	"time"

	"github.com/relayq/relayq/internal/platform/logger"
	"github.com/rs/zerolog"
)

// Scheduler sleep bounds (spec.md §4.2): never spin on a flood of
// near-due messages, never lag more than the ceiling behind a quiet
// queue.
const (
	schedulerSleepFloor   = 5 * time.Millisecond
	schedulerSleepCeiling = 100 * time.Millisecond
	promoteBatchLimit     = 100
)

// delayScheduler promotes due entries from one queue's delayed set
// into its ready list. One instance runs per registered queue: the
// delayed set also receives retry-backoff re-enqueues regardless of
// whether the queue itself is registered as delayed, so every queue
// needs its entries promoted back out.
type delayScheduler struct {
	queue   string
	tmpl    *Template
	backOff time.Duration
}

func newDelayScheduler(queue string, tmpl *Template, backOff time.Duration) *delayScheduler {
	return &delayScheduler{queue: queue, tmpl: tmpl, backOff: backOff}
}

// run is the cooperative loop. It returns when ctx is cancelled.
func (s *delayScheduler) run(ctx context.Context) {
	log := logger.Log.With().Str("component", "scheduler").Str("queue", s.queue).Logger()
	log.Info().Msg("scheduler started")
	defer log.Info().Msg("scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.tmpl.PromoteDelayed(ctx, s.queue, promoteBatchLimit)
		if err != nil {
			log.Error().Err(err).Msg("promote delayed failed")
			if !sleepOrDone(ctx, s.backOff) {
				return
			}
			continue
		}
		if n > 0 {
			// More may be immediately due; loop again without sleeping.
			continue
		}

		sleep := s.nextSleep(ctx, log)
		if !sleepOrDone(ctx, sleep) {
			return
		}
	}
}

// nextSleep computes how long to wait before the next promotion
// attempt: until the earliest remaining delayed score, clamped to
// [schedulerSleepFloor, schedulerSleepCeiling].
func (s *delayScheduler) nextSleep(ctx context.Context, log zerolog.Logger) time.Duration {
	earliest, ok, err := s.tmpl.EarliestDelayed(ctx, s.queue)
	if err != nil {
		log.Error().Err(err).Msg("read earliest delayed failed")
		return s.backOff
	}
	if !ok {
		return schedulerSleepCeiling
	}
	until := time.Duration(earliest-nowMillis()) * time.Millisecond
	switch {
	case until < schedulerSleepFloor:
		return schedulerSleepFloor
	case until > schedulerSleepCeiling:
		return schedulerSleepCeiling
	default:
		return until
	}
}

// sleepOrDone sleeps for d, returning false early (without sleeping
// the full duration) if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
