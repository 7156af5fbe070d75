package broker

import (
	"context"
	"time"

	"github.com/relayq/relayq/internal/platform/logger"
)

// poller feeds one queue's ready messages into the worker pool. The
// processing set IS the buffer between poller and pool: there is no
// local queue, so a saturated pool simply blocks Submit.
type poller struct {
	queue        string
	tmpl         *Template
	pool         *Pool
	limiter      *RateLimiter
	desc         QueueDescriptor
	pollInterval time.Duration
	backOff      time.Duration
}

func newPoller(queue string, tmpl *Template, pool *Pool, limiter *RateLimiter, desc QueueDescriptor, pollInterval, backOff time.Duration) *poller {
	return &poller{
		queue:        queue,
		tmpl:         tmpl,
		pool:         pool,
		limiter:      limiter,
		desc:         desc,
		pollInterval: pollInterval,
		backOff:      backOff,
	}
}

func (p *poller) run(ctx context.Context) {
	log := logger.Log.With().Str("component", "poller").Str("queue", p.queue).Logger()
	log.Info().Msg("poller started")
	defer log.Info().Msg("poller stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, raw, ok, err := p.tmpl.PopReady(ctx, p.queue, p.desc.MaxJobExecutionTime)
		if err != nil {
			log.Error().Err(err).Msg("pop ready failed")
			if !sleepOrDone(ctx, p.backOff) {
				return
			}
			continue
		}
		if !ok {
			if !sleepOrDone(ctx, p.pollInterval) {
				return
			}
			continue
		}

		if p.limiter != nil {
			allowed, lerr := p.limiter.Allow(ctx, p.queue)
			if lerr != nil {
				log.Error().Err(lerr).Msg("rate limit check failed; processing anyway")
			} else if !allowed {
				// Throttled messages go back to the ready list without
				// consuming a retry attempt (Requeue, not ReEnqueue).
				if rerr := p.tmpl.Requeue(ctx, p.queue, raw, msg); rerr != nil {
					log.Error().Err(rerr).Msg("requeue after throttle failed")
				}
				continue
			}
		}

		if err := p.pool.Submit(ctx, p.queue, msg, raw); err != nil {
			log.Warn().Err(err).Msg("submit aborted, message left in processing set for reaper")
			return
		}
	}
}
