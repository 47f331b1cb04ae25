package eventsvc

import (
	"context"
	"sync"

	"github.com/trezcool/bursar/core"
)

// Recorder keeps published events in memory. Used when no broker is configured & in tests.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

var _ core.EventPublisher = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, events ...core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns the events published so far, optionally only those of the given types.
func (r *Recorder) Events(types ...string) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	evts := make([]core.Event, 0, len(r.events))
	for _, evt := range r.events {
		if len(types) == 0 || contains(types, evt.Type) {
			evts = append(evts, evt)
		}
	}
	return evts
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
