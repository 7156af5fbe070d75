package broker

import "time"

// Config is the immutable, validated configuration for a Container. It
// is assembled once via NewConfig and its functional options, matching
// the enumerated table in spec.md §6. Mutable setter builders (the
// teacher's annotation-driven config-object style) are deliberately not
// used here — see DESIGN.md's "mutable setter builders" resolution.
type Config struct {
	AutoStartup         bool
	MaxNumWorkers       int
	BackOffTime         time.Duration
	PollInterval        time.Duration
	MaxJobExecutionTime time.Duration
	Converters          []MessageConverter
	DiscardProcessor    func(Message)
	DeadLetterProcessor func(Message)
	StoreResults        bool
	ResultTTL           time.Duration

	// OnOutcome, if set, is called once per resolved message with the
	// queue name and one of the Outcome* constants. It exists so a
	// composition root can wire metrics (e.g. Prometheus counters)
	// without the broker package importing a metrics backend directly.
	OnOutcome func(queue, outcome string)

	// OnHandlerDuration, if set, is called after every handler
	// invocation (success or failure) with its wall-clock duration.
	OnHandlerDuration func(queue string, d time.Duration)

	// OnQueueLatency, if set, is called once per popped message with the
	// time spent between EnqueuedAt and the moment a worker began
	// processing it (after pool admission), i.e. queueing delay under
	// load.
	OnQueueLatency func(queue string, d time.Duration)
}

// Outcome labels passed to Config.OnOutcome.
const (
	OutcomeAck     = "ack"
	OutcomeRetry   = "retry"
	OutcomeDLQ     = "dlq"
	OutcomeDiscard = "discard"
)

// Option mutates a Config under construction.
type Option func(*Config)

// WithAutoStartup controls whether Container.Start is expected to be
// invoked by the process entrypoint automatically. Default true.
func WithAutoStartup(v bool) Option { return func(c *Config) { c.AutoStartup = v } }

// WithMaxWorkers overrides the worker-pool size. If unset, the
// container defaults it to the number of registered queues.
func WithMaxWorkers(n int) Option { return func(c *Config) { c.MaxNumWorkers = n } }

// WithBackOffTime overrides the sleep duration after an infrastructure
// error. Default 10s.
func WithBackOffTime(d time.Duration) Option { return func(c *Config) { c.BackOffTime = d } }

// WithPollInterval overrides the poller's idle sleep. Default 500ms.
func WithPollInterval(d time.Duration) Option { return func(c *Config) { c.PollInterval = d } }

// WithDefaultMaxJobExecutionTime sets Config.MaxJobExecutionTime,
// which Validate checks against the MinExecutionTime +
// DeltaBetweenReEnqueueTime floor. Default 15 minutes. The value is not
// applied to any queue: each QueueDescriptor uses its own
// MaxJobExecutionTime, and Registry.Register rejects a descriptor that
// leaves it unset.
func WithDefaultMaxJobExecutionTime(d time.Duration) Option {
	return func(c *Config) { c.MaxJobExecutionTime = d }
}

// WithConverters overrides the ordered codec chain. Must be non-empty.
func WithConverters(cs ...MessageConverter) Option {
	return func(c *Config) { c.Converters = cs }
}

// WithDiscardProcessor sets the terminal-discard hook.
func WithDiscardProcessor(f func(Message)) Option {
	return func(c *Config) { c.DiscardProcessor = f }
}

// WithDeadLetterProcessor sets the terminal-DLQ hook.
func WithDeadLetterProcessor(f func(Message)) Option {
	return func(c *Config) { c.DeadLetterProcessor = f }
}

// WithOnOutcome registers a callback invoked once per resolved
// message, primarily so a composition root can feed a metrics backend.
func WithOnOutcome(f func(queue, outcome string)) Option {
	return func(c *Config) { c.OnOutcome = f }
}

// WithOnHandlerDuration registers a callback invoked after every
// handler invocation with its wall-clock duration.
func WithOnHandlerDuration(f func(queue string, d time.Duration)) Option {
	return func(c *Config) { c.OnHandlerDuration = f }
}

// WithOnQueueLatency registers a callback invoked once per popped
// message with the time it spent waiting to be picked up.
func WithOnQueueLatency(f func(queue string, d time.Duration)) Option {
	return func(c *Config) { c.OnQueueLatency = f }
}

// WithResultStorage enables the optional result-storage facility
// (spec.md §10 supplement) with the given TTL.
func WithResultStorage(ttl time.Duration) Option {
	return func(c *Config) { c.StoreResults = true; c.ResultTTL = ttl }
}

// NewConfig builds a validated Config from defaults plus options.
func NewConfig(opts ...Option) (Config, error) {
	c := Config{
		AutoStartup:         true,
		BackOffTime:         10 * time.Second,
		PollInterval:        500 * time.Millisecond,
		MaxJobExecutionTime: 15 * time.Minute,
		Converters:          []MessageConverter{JSONConverter{}},
		DiscardProcessor:    func(Message) {},
		DeadLetterProcessor: func(Message) {},
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate enforces the configuration-error class of spec.md §7.
func (c Config) Validate() error {
	if len(c.Converters) == 0 {
		return newConfigError("messageConverters must be non-empty")
	}
	if c.BackOffTime <= 0 {
		return newConfigError("backOffTime must be positive, got %s", c.BackOffTime)
	}
	if c.PollInterval <= 0 {
		return newConfigError("pollInterval must be positive, got %s", c.PollInterval)
	}
	if c.MaxNumWorkers < 0 {
		return newConfigError("maxNumWorkers must be >= 0, got %d", c.MaxNumWorkers)
	}
	if c.MaxJobExecutionTime < MinExecutionTime+DeltaBetweenReEnqueueTime {
		return newConfigError("default maxJobExecutionTime %s below floor %s",
			c.MaxJobExecutionTime, MinExecutionTime+DeltaBetweenReEnqueueTime)
	}
	return nil
}
