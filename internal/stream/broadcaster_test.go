package stream

import (
	"fmt"
	"testing"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBroadcaster(0)

	var got []string
	unsub := b.Subscribe("job-1", func(e Event) {
		got = append(got, e.Content)
	})
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish("job-1", Event{Type: EventTextDelta, Content: fmt.Sprintf("chunk-%d", i)})
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, c := range got {
		want := fmt.Sprintf("chunk-%d", i)
		if c != want {
			t.Fatalf("event %d: got %q want %q", i, c, want)
		}
	}
}

func TestSubscribeReplaysHistoryBeforeReturning(t *testing.T) {
	b := NewBroadcaster(0)

	b.Publish("job-1", Event{Type: EventLog, Message: "first"})
	b.Publish("job-1", Event{Type: EventLog, Message: "second"})

	var replayed []string
	unsub := b.Subscribe("job-1", func(e Event) {
		replayed = append(replayed, e.Message)
	})
	defer unsub()

	// Replay happens synchronously inside Subscribe.
	if len(replayed) != 2 || replayed[0] != "first" || replayed[1] != "second" {
		t.Fatalf("unexpected replay: %v", replayed)
	}

	b.Publish("job-1", Event{Type: EventLog, Message: "third"})
	if len(replayed) != 3 || replayed[2] != "third" {
		t.Fatalf("live event not delivered after replay: %v", replayed)
	}
}

func TestHistoryBounded(t *testing.T) {
	b := NewBroadcaster(100)

	for i := 0; i < 105; i++ {
		b.Publish("job-1", Event{Type: EventTextDelta, Content: fmt.Sprintf("e%d", i)})
	}

	hist := b.History("job-1")
	if len(hist) != 100 {
		t.Fatalf("expected history capped at 100, got %d", len(hist))
	}
	if hist[0].Content != "e5" {
		t.Fatalf("expected oldest retained event e5, got %q", hist[0].Content)
	}
	if hist[99].Content != "e104" {
		t.Fatalf("expected newest event e104, got %q", hist[99].Content)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(0)

	var first, second int
	unsub1 := b.Subscribe("job-1", func(Event) { first++ })
	unsub2 := b.Subscribe("job-1", func(Event) { second++ })

	if n := b.SubscriberCount("job-1"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	unsub1()
	unsub1()

	if n := b.SubscriberCount("job-1"); n != 1 {
		t.Fatalf("expected 1 subscriber after double unsubscribe, got %d", n)
	}

	b.Publish("job-1", Event{Type: EventStatus})
	if first != 0 {
		t.Fatalf("removed subscriber still received events: %d", first)
	}
	if second != 1 {
		t.Fatalf("remaining subscriber expected 1 event, got %d", second)
	}
	unsub2()
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	b := NewBroadcaster(0)

	var delivered int
	unsubBad := b.Subscribe("job-1", func(Event) { panic("boom") })
	unsubGood := b.Subscribe("job-1", func(Event) { delivered++ })
	defer unsubBad()
	defer unsubGood()

	b.Publish("job-1", Event{Type: EventStatus})
	b.Publish("job-1", Event{Type: EventStatus})

	if delivered != 2 {
		t.Fatalf("healthy subscriber expected 2 events, got %d", delivered)
	}
}

func TestClearHistory(t *testing.T) {
	b := NewBroadcaster(0)

	b.Publish("job-1", Event{Type: EventLog, Message: "old"})
	b.ClearHistory("job-1")

	if got := b.History("job-1"); len(got) != 0 {
		t.Fatalf("expected empty history, got %d events", len(got))
	}

	var replayed int
	unsub := b.Subscribe("job-1", func(Event) { replayed++ })
	defer unsub()
	if replayed != 0 {
		t.Fatalf("expected no replay after clear, got %d", replayed)
	}
}

func TestJobsIsolated(t *testing.T) {
	b := NewBroadcaster(0)

	var a, c int
	unsubA := b.Subscribe("job-a", func(Event) { a++ })
	unsubC := b.Subscribe("job-c", func(Event) { c++ })
	defer unsubA()
	defer unsubC()

	b.Publish("job-a", Event{Type: EventStatus})

	if a != 1 || c != 0 {
		t.Fatalf("cross-job delivery: a=%d c=%d", a, c)
	}
}
