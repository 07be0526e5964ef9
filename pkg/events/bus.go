// Package events carries cross-cutting signals out of the fetch/upload
// pipelines: module-item requirement completions and submission success or
// failure notifications. Publishing is best-effort by design; a broken bus
// never fails the operation that emitted the event.
package events

import (
	"context"
	"fmt"
	"sync"
)

const (
	// ModuleItemRequirementCompleted fires when a mutation satisfies a module
	// requirement (viewing a topic, contributing a reply).
	ModuleItemRequirementCompleted = "module_item.requirement_completed"
	// SubmissionCompleted and SubmissionFailed are the user-facing upload
	// outcome notifications.
	SubmissionCompleted = "submission.completed"
	SubmissionFailed    = "submission.failed"
)

// Event is one signal. ID is the deduplication key: pending events with the
// same ID overwrite each other rather than stacking, so repeated failures for
// the same assignment produce one alert.
type Event struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CourseID     string            `json:"courseId,omitempty"`
	AssignmentID string            `json:"assignmentId,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// SubmissionEventID builds the deterministic dedup identifier for submission
// outcome notifications.
func SubmissionEventID(name, courseID, assignmentID string) string {
	kind := "completed-submission"
	if name == SubmissionFailed {
		kind = "failed-submission"
	}
	return fmt.Sprintf("%s-%s-%s", kind, courseID, assignmentID)
}

// Bus delivers events to interested subsystems.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
}

// MemoryBus is the in-process implementation. Subscribers receive events on a
// channel; undelivered events are held per-ID so a newer event with the same
// ID replaces the stale one.
type MemoryBus struct {
	mu      sync.Mutex
	pending map[string]Event
	order   []string
	subs    []chan Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{pending: map[string]Event{}}
}

// Publish delivers ev to every subscriber that can take it immediately and
// otherwise records it as pending, overwriting any pending event sharing its
// dedup ID.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := false
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			delivered = true
		default:
		}
	}
	if delivered {
		return nil
	}
	if ev.ID != "" {
		if _, exists := b.pending[ev.ID]; !exists {
			b.order = append(b.order, ev.ID)
		}
		b.pending[ev.ID] = ev
	}
	return nil
}

// Subscribe returns a channel of events. Pending events are flushed onto it
// in arrival order.
func (b *MemoryBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	for _, id := range b.order {
		ch <- b.pending[id]
		delete(b.pending, id)
	}
	b.order = nil
	b.subs = append(b.subs, ch)
	return ch
}

// Pending returns the queued event for id, if any. Used by tests and by the
// control surface to inspect undelivered notifications.
func (b *MemoryBus) Pending(id string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.pending[id]
	return ev, ok
}
