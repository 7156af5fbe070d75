package broker

import (
	"context"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/platform/logger"
)

// Pool is a bounded concurrent executor. It holds no queue of its own:
// the processing set in Redis IS the buffer, so Submit blocks on
// admission rather than enqueuing locally (spec.md §4.5, §5).
type Pool struct {
	sem        chan struct{}
	wg         sync.WaitGroup
	registry   *Registry
	tmpl       *Template
	sm         *stateMachine
	converters []MessageConverter

	onHandlerDuration func(queue string, d time.Duration)
	onQueueLatency    func(queue string, d time.Duration)

	resultStore *ResultStore
}

// NewPool builds a worker pool with size admission slots.
func NewPool(size int, registry *Registry, tmpl *Template, sm *stateMachine, converters []MessageConverter) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:        make(chan struct{}, size),
		registry:   registry,
		tmpl:       tmpl,
		sm:         sm,
		converters: converters,
	}
}

// Submit blocks until an admission slot is free (or ctx is done), then
// dispatches the message to a goroutine that runs the handler and
// reports the outcome to the retry/DLQ state machine. Submit returns
// once the slot has been claimed, not once processing has finished.
func (p *Pool) Submit(ctx context.Context, queue string, msg Message, raw string) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.process(ctx, queue, msg, raw)
	}()
	return nil
}

// Wait blocks until every in-flight submission has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) process(ctx context.Context, queue string, msg Message, raw string) {
	log := logger.Log.With().Str("component", "worker").Str("queue", queue).Str("message_id", msg.ID).Logger()

	if p.onQueueLatency != nil && msg.EnqueuedAt > 0 {
		p.onQueueLatency(queue, time.Duration(nowMillis()-msg.EnqueuedAt)*time.Millisecond)
	}

	handler, desc, ok := p.registry.Lookup(queue)
	if !ok {
		log.Error().Msg("no handler registered for queue; leaving message in processing set for reaper")
		return
	}

	var payload any = msg.Payload
	var decodeErr error
	if desc.PayloadFactory != nil {
		target := desc.PayloadFactory()
		if err := decodePayload(p.converters, msg.Payload, target); err != nil {
			decodeErr = err
		} else {
			payload = target
		}
	}

	var err error
	if decodeErr != nil {
		// Codec failure is a terminal handler failure (spec.md §4.5,
		// §7): routed straight to the retry/DLQ machine without
		// invoking the handler.
		err = decodeErr
		log.Error().Err(err).Msg("payload decode failed")
	} else {
		deadline := desc.HandlerDeadline()
		hctx, cancel := context.WithTimeout(ctx, deadline)

		var rc *resultCapture
		if p.resultStore != nil {
			rc = &resultCapture{}
			hctx = withResultCapture(hctx, rc)
		}

		start := time.Now()
		err = handler(hctx, msg, payload)
		cancel()
		duration := time.Since(start)
		log.Debug().Dur("duration", duration).Bool("ok", err == nil).Msg("handler finished")
		if p.onHandlerDuration != nil {
			p.onHandlerDuration(queue, duration)
		}
		if err != nil {
			err = newHandlerError(err)
		} else if rc != nil && rc.set {
			if serr := p.resultStore.Set(ctx, msg.ID, rc.value); serr != nil {
				log.Error().Err(serr).Msg("result store write failed")
			}
		}
	}

	o := outcome{
		msg:        msg,
		raw:        raw,
		queue:      queue,
		desc:       desc,
		handlerOK:  err == nil,
		handlerErr: err,
	}

	if smErr := p.sm.resolve(ctx, o); smErr != nil {
		log.Error().Err(smErr).Msg("state machine resolution failed")
	}
}
