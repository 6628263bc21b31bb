package supervisor

import "sync"

// EventType names an outbound observer notification.
type EventType string

const (
	EventExtensionActivated   EventType = "extension-activated"
	EventExtensionDeactivated EventType = "extension-deactivated"
	EventShowMessage          EventType = "show-message"
	EventHostCommand          EventType = "host-command"
)

// Event is a fire-and-forget notification broadcast to observers.
type Event struct {
	Type        EventType `json:"type"`
	ExtensionID string    `json:"extension_id,omitempty"`
	Level       string    `json:"level,omitempty"`
	Message     string    `json:"message,omitempty"`
	Command     string    `json:"command,omitempty"`
}

// broadcaster fans events out to subscribers. Sends never block: a
// subscriber that stops draining misses events rather than stalling the
// supervisor loop.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers an observer and returns its channel plus a cancel
// function.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.next
	b.next++
	ch := make(chan Event, 32)
	b.subs[key] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[key]; ok {
			delete(b.subs, key)
			close(sub)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
