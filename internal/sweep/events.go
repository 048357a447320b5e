package sweep

import (
	"sync"
	"time"
)

// EventKind identifies what a sweep event reports.
type EventKind int

const (
	// EventSweepStarted fires once when the controller begins.
	EventSweepStarted EventKind = iota
	// EventSubjectStarted fires when a subject is selected for launching.
	EventSubjectStarted
	// EventCommandReady fires when a launch command has been synthesized.
	EventCommandReady
	// EventAttemptDone fires after each attempt is classified.
	EventAttemptDone
	// EventSubjectResolved fires when a subject's status is persisted.
	EventSubjectResolved
	// EventSweepDone fires once when no unresolved subject remains.
	EventSweepDone
)

// Event is one observable step of a sweep, consumed by the dashboard and by
// the headless progress log.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Subject string
	Attempt int // 1-based, set on attempt-scoped events
	Command string
	Outcome Outcome
	Note    string
}

// Broadcaster fans sweep events out to multiple consumers. Sends never
// block: a consumer that falls behind loses events rather than stalling
// the sweep.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a consumer and returns its event channel plus an
// unsubscribe function. The channel is buffered (100 events); the caller
// must invoke the returned function when done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = ch
	}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}

	return ch, unsub
}

// Publish delivers ev to every subscriber, stamping the time if unset.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow consumer; drop rather than stall the sweep.
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
