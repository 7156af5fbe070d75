package broker

import (
	"context"
	"time"

	"github.com/relayq/relayq/internal/platform/logger"
)

const reapBatchLimit = 100

// reaper reclaims messages whose visibility deadline has passed from
// one queue's processing set, returning them to the ready list. Per
// spec.md §4.3, every message reaped this way counts as a retry
// attempt (retryCount is incremented alongside the move).
type reaper struct {
	queue   string
	tmpl    *Template
	backOff time.Duration
}

func newReaper(queue string, tmpl *Template, backOff time.Duration) *reaper {
	return &reaper{queue: queue, tmpl: tmpl, backOff: backOff}
}

func (r *reaper) run(ctx context.Context) {
	log := logger.Log.With().Str("component", "reaper").Str("queue", r.queue).Logger()
	log.Info().Msg("reaper started")
	defer log.Info().Msg("reaper stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.tmpl.ReapProcessing(ctx, r.queue, reapBatchLimit)
		if err != nil {
			log.Error().Err(err).Msg("reap processing failed")
			if !sleepOrDone(ctx, r.backOff) {
				return
			}
			continue
		}
		if n > 0 {
			log.Warn().Int64("count", n).Msg("reclaimed visibility-expired messages")
			continue
		}

		if !sleepOrDone(ctx, schedulerSleepCeiling) {
			return
		}
	}
}
