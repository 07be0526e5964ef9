package events

import (
	"context"
	"testing"
)

func TestSubmissionEventIDFormat(t *testing.T) {
	if got := SubmissionEventID(SubmissionCompleted, "1", "9"); got != "completed-submission-1-9" {
		t.Fatalf("unexpected id: %q", got)
	}
	if got := SubmissionEventID(SubmissionFailed, "1", "9"); got != "failed-submission-1-9" {
		t.Fatalf("unexpected id: %q", got)
	}
}

func TestPendingEventsOverwriteByID(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	id := SubmissionEventID(SubmissionFailed, "1", "9")
	for _, msg := range []string{"first", "second"} {
		err := bus.Publish(ctx, Event{
			ID: id, Name: SubmissionFailed, CourseID: "1", AssignmentID: "9",
			Fields: map[string]string{"error": msg},
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	ev, ok := bus.Pending(id)
	if !ok {
		t.Fatal("expected a pending event")
	}
	if ev.Fields["error"] != "second" {
		t.Fatalf("newer event must replace the stale one, got %+v", ev)
	}

	// The overwrite leaves exactly one delivery.
	ch := bus.Subscribe()
	<-ch
	select {
	case extra := <-ch:
		t.Fatalf("duplicate delivery: %+v", extra)
	default:
	}
}

func TestSubscribeFlushesPendingInArrivalOrder(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := bus.Publish(ctx, Event{ID: id, Name: "test"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	ch := bus.Subscribe()
	for _, want := range []string{"a", "b", "c"} {
		got := <-ch
		if got.ID != want {
			t.Fatalf("expected %s, got %s", want, got.ID)
		}
	}

	// Once subscribed, events are delivered live instead of queued.
	if err := bus.Publish(ctx, Event{ID: "d", Name: "test"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := <-ch; got.ID != "d" {
		t.Fatalf("expected live delivery of d, got %s", got.ID)
	}
	if _, ok := bus.Pending("d"); ok {
		t.Fatal("delivered event must not stay pending")
	}
}
