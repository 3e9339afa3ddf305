package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// textBatcher coalesces streamed text fragments into timed flushes so event
// volume stays bounded without perceptibly delaying the UI. Tool lifecycle
// events are never routed through here; only free text is batched.
type textBatcher struct {
	interval time.Duration
	flush    func(string)

	mu      sync.Mutex
	pending strings.Builder
	timer   *time.Timer
	closed  bool
}

func newTextBatcher(interval time.Duration, flush func(string)) *textBatcher {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &textBatcher{interval: interval, flush: flush}
}

func (b *textBatcher) Add(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending.WriteString(text)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.tick)
	}
}

func (b *textBatcher) tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	b.flushLocked()
}

// Close flushes any pending text and stops the timer. The batcher accepts no
// further input afterwards.
func (b *textBatcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.flushLocked()
}

// flushLocked runs the flush callback under the batcher lock so flushed
// segments cannot reorder relative to each other.
func (b *textBatcher) flushLocked() {
	if b.pending.Len() == 0 {
		return
	}
	text := b.pending.String()
	b.pending.Reset()
	b.flush(text)
}
