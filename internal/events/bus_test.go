package events_test

import (
	"testing"
	"time"

	"importq/internal/events"
	"importq/internal/queue"
)

func collect(sub *events.Subscription, n int, t *testing.T) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(got))
		}
	}
	return got
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(16)
	defer sub.Close()

	statuses := []queue.Status{queue.StatusVmaf, queue.StatusPreparing, queue.StatusTranscoding, queue.StatusPostprocess, queue.StatusCompleted}
	prev := queue.StatusPending
	for _, next := range statuses {
		bus.Publish(events.NewStatusEvent(7, "corr-1", prev, next))
		prev = next
	}

	got := collect(sub, len(statuses), t)
	prev = queue.StatusPending
	for i, ev := range got {
		if ev.Type != events.TypeItemStatus || ev.ItemID != 7 {
			t.Fatalf("event %d: unexpected envelope %#v", i, ev)
		}
		if ev.Status.From != prev || ev.Status.To != statuses[i] {
			t.Fatalf("event %d: out of order, got %s -> %s", i, ev.Status.From, ev.Status.To)
		}
		prev = statuses[i]
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	first := bus.Subscribe(8)
	second := bus.Subscribe(8)
	defer first.Close()
	defer second.Close()

	bus.Publish(events.NewStateEvent(events.QueueSummary{Total: 3, Pending: 2, Processing: 1}))

	for _, sub := range []*events.Subscription{first, second} {
		got := collect(sub, 1, t)
		if got[0].Type != events.TypeStateChanged || got[0].Summary.Total != 3 {
			t.Fatalf("unexpected event %#v", got[0])
		}
	}
}

func TestBusEvictsOldestWhenSubscriberLags(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(2)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(events.NewProgressEvent(1, "", events.ProgressUpdate{Percent: float64(i * 10)}))
	}

	got := collect(sub, 2, t)
	if sub.Dropped() == 0 {
		t.Fatal("expected drops recorded")
	}
	// The most recent events survive eviction.
	if got[len(got)-1].Progress.Percent != 40 {
		t.Fatalf("expected newest event retained, got %v", got[len(got)-1].Progress.Percent)
	}
	if got[0].Progress.Percent >= got[1].Progress.Percent {
		t.Fatalf("ordering violated: %v then %v", got[0].Progress.Percent, got[1].Progress.Percent)
	}
}

func TestSubscribeAfterCloseYieldsClosedChannel(t *testing.T) {
	bus := events.NewBus(nil)
	bus.Close()

	sub := bus.Subscribe(1)
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
