package broker

import (
	"context"
	"sync"
)

// Handler processes one dequeued message. payload is the codec-decoded
// value (the result of running the converter chain against
// msg.Payload when the queue was registered with a PayloadFactory;
// otherwise it is the raw msg.Payload bytes). Returning an error
// drives the retry/DLQ state machine of spec.md §4.7.
type Handler func(ctx context.Context, msg Message, payload any) error

// mapping bundles a handler with its immutable policy (the spec's
// "mapping information").
type mapping struct {
	handler Handler
	desc    QueueDescriptor
}

// Registry maps a queue name to its handler and mapping information.
// It is mutable only until Freeze is called by the container at
// start-up; after that it is read-only. Every lookup still takes the
// registry's mutex.
type Registry struct {
	mu       sync.Mutex
	mappings map[string]mapping
	frozen   bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]mapping)}
}

// Register associates a handler with a queue and its policy. Returns a
// ConfigError if the registry is already frozen or the descriptor is
// invalid.
func (r *Registry) Register(desc QueueDescriptor, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return newConfigError("registry is frozen: cannot register queue %q after start", desc.Name)
	}
	if h == nil {
		return newConfigError("queue %q: handler must not be nil", desc.Name)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mappings[desc.Name] = mapping{handler: h, desc: desc}
	return nil
}

// Freeze prevents further registration. The container calls this once,
// at the INITIAL->STARTING transition.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the handler and descriptor for a queue name.
func (r *Registry) Lookup(queue string) (Handler, QueueDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[queue]
	return m.handler, m.desc, ok
}

// QueueNames returns every registered queue name, in no particular
// order.
func (r *Registry) QueueNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.mappings))
	for name := range r.mappings {
		names = append(names, name)
	}
	return names
}

// Len reports the number of registered queues.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappings)
}
