package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventUsageTracked EventType = "usage_tracked"
	EventModelCreated EventType = "model_created"
	EventModelUpdated EventType = "model_updated"
	EventUsageReset   EventType = "usage_reset"
	EventHealthChange EventType = "health_change"
	EventBudgetAlert  EventType = "budget_alert"
)

// Event is a single registry event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	ModelID  string `json:"model_id,omitempty"`
	Provider string `json:"provider,omitempty"`

	// Usage fields (populated for usage_tracked).
	LatencyMs  float64  `json:"latency_ms,omitempty"`
	CostUSD    float64  `json:"cost_usd,omitempty"`
	TokensUsed int64    `json:"tokens_used,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Quality    *float64 `json:"quality,omitempty"`

	// Fields lists patched attributes for model_updated.
	Fields []string `json:"fields,omitempty"`

	// Health and budget fields.
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C     chan Event
	done  chan struct{}
	types map[EventType]bool
}

func (s *Subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is an in-memory pub/sub event bus for registry events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel. When types
// is non-empty only those event types are delivered.
func (b *Bus) Subscribe(bufSize int, types ...EventType) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	if len(types) > 0 {
		s.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all interested subscribers (non-blocking).
// A nil bus is valid and drops everything.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
