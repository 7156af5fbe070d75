package broker

import (
	"context"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/platform/logger"
	"github.com/redis/go-redis/v9"
)

// State is one of the container's lifecycle states (spec.md §4.8).
type State int

const (
	StateInitial State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ShutdownGrace bounds how long Stop waits for loops to quiesce before
// abandoning them (their messages will be recovered by the reaper).
const ShutdownGrace = 5 * time.Second

// Container owns the lifecycle of every broker subcomponent: it is the
// only entity permitted to start or stop a scheduler, reaper, poller,
// or worker pool. Subcomponents hold only non-owning references to the
// Template and to the registry's hooks; there are no back-references
// into the container (spec.md §4.8, §9 "cyclic ownership").
type Container struct {
	mu       sync.Mutex
	state    State
	cfg      Config
	registry *Registry
	tmpl     *Template
	pool     *Pool
	sm       *stateMachine
	limiter  *RateLimiter

	cancel context.CancelFunc
	loopWG sync.WaitGroup
}

// NewContainer builds a container around an existing Redis client and
// registry. If cfg.MaxNumWorkers is 0, it is defaulted to the number of
// registered queues once Start freezes the registry.
func NewContainer(rdb *redis.Client, registry *Registry, cfg Config) *Container {
	return &Container{
		state:    StateInitial,
		cfg:      cfg,
		registry: registry,
		tmpl:     NewTemplate(rdb),
	}
}

// Template exposes the container's message template, e.g. for a
// Producer or an admin read path sharing the same connection pool.
func (c *Container) Template() *Template { return c.tmpl }

// State reports the current lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WithRateLimiter attaches an optional per-queue rate limiter,
// consulted by every poller before pool admission. Must be called
// before Start.
func (c *Container) WithRateLimiter(rl *RateLimiter) *Container {
	c.limiter = rl
	return c
}

// Start transitions INITIAL->STARTING->RUNNING: it freezes the
// registry, builds the worker pool and state machine, and launches one
// scheduler, one reaper, and one poller per registered queue (the
// scheduler runs for non-delayed queues too; see below). A configuration error aborts the transition and the container
// never reaches RUNNING (spec.md §7).
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInitial {
		c.mu.Unlock()
		return newConfigError("container: Start called from state %s, expected INITIAL", c.state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.cfg.Validate(); err != nil {
		c.mu.Lock()
		c.state = StateInitial
		c.mu.Unlock()
		return err
	}

	c.registry.Freeze()

	maxWorkers := c.cfg.MaxNumWorkers
	if maxWorkers == 0 {
		maxWorkers = c.registry.Len()
	}
	if maxWorkers == 0 {
		maxWorkers = 1
	}

	c.sm = newStateMachine(c.tmpl, c.cfg.BackOffTime, c.cfg.DiscardProcessor, c.cfg.DeadLetterProcessor)
	c.sm.onOutcome = c.cfg.OnOutcome
	c.pool = NewPool(maxWorkers, c.registry, c.tmpl, c.sm, c.cfg.Converters)
	c.pool.onHandlerDuration = c.cfg.OnHandlerDuration
	c.pool.onQueueLatency = c.cfg.OnQueueLatency
	if c.cfg.StoreResults {
		c.pool.resultStore = NewResultStore(c.tmpl.Raw(), c.cfg.ResultTTL)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, name := range c.registry.QueueNames() {
		_, desc, ok := c.registry.Lookup(name)
		if !ok {
			continue
		}

		if err := c.tmpl.SaveQueueConfig(runCtx, desc); err != nil {
			logger.Log.Error().Err(err).Str("queue", name).Msg("failed to persist queue config")
		}

		// The delayed set is also where a failed handler's retry
		// backoff lands (statemachine.resolve calls ReEnqueue with
		// cfg.BackOffTime), regardless of whether the queue is
		// registered as delayed. Every queue needs its promotion loop
		// running or a retried message on a non-delayed queue would
		// never be promoted back to the ready list.
		s := newDelayScheduler(desc.Name, c.tmpl, c.cfg.BackOffTime)
		c.loopWG.Add(1)
		go func() { defer c.loopWG.Done(); s.run(runCtx) }()

		r := newReaper(desc.Name, c.tmpl, c.cfg.BackOffTime)
		c.loopWG.Add(1)
		go func() { defer c.loopWG.Done(); r.run(runCtx) }()

		p := newPoller(desc.Name, c.tmpl, c.pool, c.limiter, desc, c.cfg.PollInterval, c.cfg.BackOffTime)
		c.loopWG.Add(1)
		go func() { defer c.loopWG.Done(); p.run(runCtx) }()
	}

	c.mu.Lock()
	c.state = StateRunning
	c.mu.Unlock()
	logger.Log.Info().Int("queues", c.registry.Len()).Int("max_workers", maxWorkers).Msg("container started")
	return nil
}

// Stop transitions RUNNING->STOPPING->STOPPED: it signals every loop to
// quiesce, waits up to ShutdownGrace, then returns regardless of
// whether workers have finished (their messages will be recovered by
// the reaper once the visibility deadline passes).
func (c *Container) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.loopWG.Wait()
		if c.pool != nil {
			c.pool.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info().Msg("container stopped cleanly")
	case <-time.After(ShutdownGrace):
		logger.Log.Warn().Msg("container stop grace period elapsed; abandoning in-flight work to the reaper")
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
}
