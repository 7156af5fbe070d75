package broker

import (
	"context"
	"errors"
	"time"

	"github.com/relayq/relayq/internal/platform/logger"
)

// stateMachine is the single application-side writer of retryCount
// (the reaper is the sole infrastructure-side writer; both increment
// the same metadata hash field with HINCRBY inside a Lua script, the
// state machine through Template.IncrRetryCount and the reaper inside
// reapProcessingScript, so concurrent increments never race). It
// implements the outcome table of spec.md §4.7.
type stateMachine struct {
	tmpl                *Template
	backOff             time.Duration
	discardProcessor    func(Message)
	deadLetterProcessor func(Message)
	onOutcome           func(queue, outcome string)
}

func newStateMachine(tmpl *Template, backOff time.Duration, discard, dlqHook func(Message)) *stateMachine {
	return &stateMachine{
		tmpl:                tmpl,
		backOff:             backOff,
		discardProcessor:    discard,
		deadLetterProcessor: dlqHook,
	}
}

// outcome is what a worker learned from invoking a handler.
type outcome struct {
	msg       Message
	raw       string
	queue     string
	desc      QueueDescriptor
	handlerOK bool
	handlerErr error
}

// resolve applies the outcome table: ack on success; retry with
// backoff while under the retry budget; DLQ or discard once exhausted.
// A codec failure (*CodecError) is terminal and goes straight to DLQ or
// discard without a retry.
func (sm *stateMachine) resolve(ctx context.Context, o outcome) error {
	log := logger.Log.With().Str("component", "statemachine").Str("queue", o.queue).Str("message_id", o.msg.ID).Logger()

	if o.handlerOK {
		if err := sm.tmpl.AckProcessing(ctx, o.queue, o.raw); err != nil {
			log.Error().Err(err).Msg("ack failed")
			return err
		}
		sm.notify(o.queue, OutcomeAck)
		return nil
	}

	log.Warn().Err(o.handlerErr).Int("retry_count", o.msg.RetryCount).Msg("handler failed")

	numRetries := o.desc.NumRetries
	if override, ok, err := sm.tmpl.RetryBudget(ctx, o.msg.ID); err != nil {
		log.Error().Err(err).Msg("read retry budget override failed")
	} else if ok {
		numRetries = override
	}

	var codecErr *CodecError
	terminal := errors.As(o.handlerErr, &codecErr)

	if !terminal && o.msg.RetryCount < numRetries {
		if err := sm.tmpl.IncrRetryCount(ctx, o.msg.ID); err != nil {
			log.Error().Err(err).Msg("increment retry count failed")
			return err
		}
		next := o.msg
		next.RetryCount++
		next.ReEnqueuedAt = nowMillis()
		if err := sm.tmpl.ReEnqueue(ctx, o.queue, o.raw, next, sm.backOff); err != nil {
			log.Error().Err(err).Msg("re-enqueue failed")
			return err
		}
		sm.notify(o.queue, OutcomeRetry)
		return nil
	}

	if dlq := o.desc.DeadLetterQueue(); dlq != "" {
		if err := sm.tmpl.MoveToDLQ(ctx, o.queue, dlq, o.raw, o.msg); err != nil {
			log.Error().Err(err).Msg("move to DLQ failed")
			return err
		}
		sm.invokeDLQHook(o.msg)
		sm.notify(o.queue, OutcomeDLQ)
		return nil
	}

	if err := sm.tmpl.AckProcessing(ctx, o.queue, o.raw); err != nil {
		log.Error().Err(err).Msg("discard-path ack failed")
		return err
	}
	sm.invokeDiscardHook(o.msg)
	sm.notify(o.queue, OutcomeDiscard)
	return nil
}

func (sm *stateMachine) notify(queue, outcome string) {
	if sm.onOutcome != nil {
		sm.onOutcome(queue, outcome)
	}
}

// invokeDLQHook and invokeDiscardHook are fire-and-log: a panic or
// error from the user-supplied hook never brings down the broker.
func (sm *stateMachine) invokeDLQHook(m Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Str("message_id", m.ID).Msg("deadLetterQueueMessageProcessor panicked")
		}
	}()
	if sm.deadLetterProcessor != nil {
		sm.deadLetterProcessor(m)
	}
}

func (sm *stateMachine) invokeDiscardHook(m Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Str("message_id", m.ID).Msg("discardMessageProcessor panicked")
		}
	}()
	if sm.discardProcessor != nil {
		sm.discardProcessor(m)
	}
}
