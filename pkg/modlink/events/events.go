// Package events distributes deployment lifecycle signals to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event.
type Kind int

const (
	ModsRefreshed Kind = iota
	DeploymentNecessaryChanged
	DeployCompleted
	DeployFailed
	PurgeCompleted
	Notification
)

func (k Kind) String() string {
	switch k {
	case ModsRefreshed:
		return "mods-refreshed"
	case DeploymentNecessaryChanged:
		return "deployment-necessary-changed"
	case DeployCompleted:
		return "deploy-completed"
	case DeployFailed:
		return "deploy-failed"
	case PurgeCompleted:
		return "purge-completed"
	case Notification:
		return "notification"
	default:
		return "unknown"
	}
}

// Severity grades a Notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Event is one signal. Fields irrelevant to the kind are zero.
type Event struct {
	Kind   Kind
	GameID string
	Time   time.Time

	// DeploymentNecessaryChanged
	Necessary bool

	// DeployCompleted, DeployFailed, PurgeCompleted
	Directories int
	Err         error

	// Notification
	Severity Severity
	Title    string
	Message  string
	Remedy   string
}

// Subscriber receives events of the kinds it asked for.
type Subscriber struct {
	ID     string
	Kinds  map[Kind]bool
	Events chan Event
}

func (s *Subscriber) wants(k Kind) bool {
	return len(s.Kinds) == 0 || s.Kinds[k]
}

// Bus fans events out to subscribers. A slow subscriber loses events
// rather than blocking the emitter.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	buffer      int
}

// New creates a Bus whose subscriber channels hold buffer events.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 100
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		buffer:      buffer,
	}
}

// Subscribe registers for the given kinds, or every kind if none are given.
// It returns nil once the bus is closed.
func (b *Bus) Subscribe(kinds ...Kind) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Kinds:  make(map[Kind]bool, len(kinds)),
		Events: make(chan Event, b.buffer),
	}
	for _, k := range kinds {
		sub.Kinds[k] = true
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Emit delivers e to every interested subscriber without blocking.
// A nil Bus discards events.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.Events <- e:
		default:
		}
	}
}

// Notify emits a Notification.
func (b *Bus) Notify(gameID string, sev Severity, title, message, remedy string) {
	b.Emit(Event{
		Kind:     Notification,
		GameID:   gameID,
		Severity: sev,
		Title:    title,
		Message:  message,
		Remedy:   remedy,
	})
}

// Close closes every subscription. Later Emits are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
