package update

import (
	"log/slog"
	"sync"
	"time"
)

// Event announces that a newer version was detected.
type Event struct {
	Running string
	Remote  string
	At      time.Time
}

// Notifier fans "update available" events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	logger *slog.Logger
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{subs: map[int]chan Event{}, logger: logger}
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Warn("Update subscriber is not keeping up, event dropped", slog.Int("subscriber", id))
		}
	}
}
