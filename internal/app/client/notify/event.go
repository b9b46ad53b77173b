// Package notify fans sync engine events out to the UI.
package notify

import (
	"sync"
	"time"

	"clinsync/internal/domain/crdt"
)

// Type names an event on the UI boundary.
type Type string

const (
	Online          Type = "online"
	Offline         Type = "offline"
	SyncQueued      Type = "sync-queued"
	SyncCompleted   Type = "sync-completed"
	SyncFailed      Type = "sync-failed"
	EditsRejected   Type = "edits-rejected"
	ReplayCompleted Type = "replay-completed"
	ReplayRejected  Type = "replay-rejected"
	ReplayDropped   Type = "replay-dropped"
	StorageError    Type = "storage-error"
	Render          Type = "render"
)

type Event struct {
	Type     Type               `json:"type"`
	Document string             `json:"document,omitempty"`
	IDs      []string           `json:"ids,omitempty"`
	Text     string             `json:"text,omitempty"`
	State    *crdt.ReplicaState `json:"state,omitempty"`
	Error    string             `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// Publisher is what components need to emit events.
type Publisher interface {
	Publish(e Event)
}

// Bus delivers every published event to all subscribers. A subscriber
// whose buffer is full misses the event instead of blocking the sender.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a function that detaches and
// closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
