package scan

import (
	"fmt"
	"sync"
	"time"
)

// EventKind classifies scan progress events.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventStep     EventKind = "step"
	EventPoint    EventKind = "point"
	EventWarning  EventKind = "warning"
	EventFinished EventKind = "finished"
	EventCanceled EventKind = "canceled"
	EventError    EventKind = "error"
)

// Event is a single progress message.
type Event struct {
	Time       time.Time
	Kind       EventKind
	Index      int // step index, -1 when not tied to a step
	Total      int
	PositionMm float64
	Point      *Point
	Msg        string
}

func (e Event) String() string {
	if e.Index < 0 {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("[%s] %d/%d @ %.4f mm %s", e.Kind, e.Index+1, e.Total, e.PositionMm, e.Msg)
}

// Broadcaster distributes events to multiple subscribers.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives events and a cleanup function.
// The caller must call the returned cleanup when done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends evt to all subscribers. Slow subscribers may miss events
// (non-blocking, buffered).
func (b *Broadcaster) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// channel full, skip
		}
	}
}

// Notify publishes an event that is not tied to a step.
func (b *Broadcaster) Notify(kind EventKind, format string, args ...interface{}) {
	b.Publish(Event{Kind: kind, Index: -1, Msg: fmt.Sprintf(format, args...)})
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
