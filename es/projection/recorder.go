package projection

import (
	"context"
	"sync"

	"github.com/tidemark-io/tidemark/es"
)

// Recorder is a Projection that collects every event it receives. It is
// safe for concurrent use and is primarily a test aid: run a processor
// against a Recorder, then wait for the expected delivery count instead of
// sleeping.
type Recorder struct {
	name string

	mu      sync.Mutex
	events  []es.PersistedEvent
	changed chan struct{}
}

var _ Projection = (*Recorder)(nil)

// NewRecorder creates a Recorder checkpointed under the given name.
func NewRecorder(name string) *Recorder {
	return &Recorder{
		name:    name,
		changed: make(chan struct{}),
	}
}

// Name implements Projection.
func (r *Recorder) Name() string {
	return r.name
}

// Handle implements Projection by recording the event.
//
//nolint:gocritic // hugeParam: Intentionally pass by value to enforce immutability
func (r *Recorder) Handle(_ context.Context, event es.PersistedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}

// Events returns a copy of the recorded events in delivery order.
func (r *Recorder) Events() []es.PersistedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]es.PersistedEvent, len(r.events))
	copy(result, r.events)
	return result
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// WaitFor blocks until at least n events were recorded or the context is
// done, in which case the context error is returned.
func (r *Recorder) WaitFor(ctx context.Context, n int) error {
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			r.mu.Unlock()
			return nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
