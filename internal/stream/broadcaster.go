package stream

import (
	"log"
	"sync"
	"time"
)

// DefaultHistoryLimit bounds the per-job replay buffer. Tuned to the typical
// tool-call volume of a single agent turn.
const DefaultHistoryLimit = 100

type Callback func(Event)

type subscriber struct {
	id int
	cb Callback
}

// Broadcaster fans events out to every live subscriber of a job and retains
// a bounded recent-event history so late subscribers catch up on the turn in
// progress (a page reload mid-planning must not lose context).
//
// Delivery is synchronous and in publish order. Callbacks run under the
// Broadcaster's lock and must not call back into it; a panicking callback is
// isolated so it cannot break delivery to the rest.
type Broadcaster struct {
	mu           sync.Mutex
	subscribers  map[string][]subscriber
	history      map[string][]Event
	historyLimit int
	nextSubID    int
}

func NewBroadcaster(historyLimit int) *Broadcaster {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Broadcaster{
		subscribers:  make(map[string][]subscriber),
		history:      make(map[string][]Event),
		historyLimit: historyLimit,
	}
}

// Subscribe registers cb for every future event of jobID and synchronously
// replays the retained history, oldest first, before returning. The returned
// function removes the subscription; calling it more than once is a no-op.
func (b *Broadcaster) Subscribe(jobID string, cb Callback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.subscribers[jobID] = append(b.subscribers[jobID], subscriber{id: id, cb: cb})

	for _, evt := range b.history[jobID] {
		b.deliver(jobID, cb, evt)
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[jobID]
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[jobID] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[jobID]) == 0 {
			delete(b.subscribers, jobID)
		}
	}
}

// Publish appends evt to the job's history ring, evicting the oldest entry
// past the cap, then invokes every current subscriber in subscription order.
func (b *Broadcaster) Publish(jobID string, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hist := append(b.history[jobID], evt)
	if len(hist) > b.historyLimit {
		hist = append([]Event(nil), hist[len(hist)-b.historyLimit:]...)
	}
	b.history[jobID] = hist

	for _, sub := range b.subscribers[jobID] {
		b.deliver(jobID, sub.cb, evt)
	}
}

func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[jobID])
}

// ClearHistory drops the retained ring buffer only; live subscriptions are
// unaffected.
func (b *Broadcaster) ClearHistory(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, jobID)
}

// History returns a copy of the retained events for jobID.
func (b *Broadcaster) History(jobID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := b.history[jobID]
	out := make([]Event, len(hist))
	copy(out, hist)
	return out
}

func (b *Broadcaster) deliver(jobID string, cb Callback, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stream: subscriber panic on job %s: %v", jobID, r)
		}
	}()
	cb(evt)
}
