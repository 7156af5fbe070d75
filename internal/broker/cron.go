package broker

import (
	"context"

	"github.com/relayq/relayq/internal/platform/logger"
	"github.com/robfig/cron/v3"
)

// CronProducer is a recurring-enqueue convenience layered on top of the
// core broker, adapted from the teacher's Client.Schedule /
// StartCronScheduler. It is not the delayed-set promotion scheduler of
// spec.md §4.2 (that is delayScheduler); this is purely a producer-side
// facility for registering "enqueue X every cron spec" jobs.
type CronProducer struct {
	producer *Producer
	cron     *cron.Cron
}

// NewCronProducer builds a CronProducer bound to an existing Producer.
func NewCronProducer(p *Producer) *CronProducer {
	return &CronProducer{producer: p, cron: cron.New(cron.WithSeconds())}
}

// Schedule registers a cron job that enqueues payload onto queue each
// time spec fires, using a fresh message ID per firing.
func (c *CronProducer) Schedule(queue string, spec string, payload any) (cron.EntryID, error) {
	return c.cron.AddFunc(spec, func() {
		if err := c.producer.Enqueue(context.Background(), queue, payload); err != nil {
			logger.Log.Error().Err(err).Str("queue", queue).Str("spec", spec).Msg("cron enqueue failed")
		}
	})
}

// Start begins running registered cron jobs in the background.
func (c *CronProducer) Start() { c.cron.Start() }

// Stop halts the cron scheduler; in-flight jobs are allowed to finish.
func (c *CronProducer) Stop() { <-c.cron.Stop().Done() }
