// Package events provides the event bus connecting the daemon core to its
// observers (UI layer, notifier, CLI watchers).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskpair/deskpair/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Transfer session lifecycle
	EventTransferStarted   EventType = "transfer_started"   // Session created, bytes about to move
	EventTransferProgress  EventType = "transfer_progress"  // Byte-count update applied
	EventTransferCompleted EventType = "transfer_completed" // Reached completed state
	EventTransferFailed    EventType = "transfer_failed"    // Reached failed state (incl. cancellation)

	// Paired device
	EventDeviceStatus EventType = "device_status" // Status mirror updated

	// Link transport
	EventLinkConnected    EventType = "link_connected"    // Peer handshake accepted
	EventLinkDisconnected EventType = "link_disconnected" // Peer connection closed
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferEvent carries a snapshot of a transfer session's observable state.
type TransferEvent struct {
	BaseEvent
	SessionID string  // Transfer session id
	Name      string  // Display file name
	Direction string  // "outgoing" or "incoming"
	Size      int64   // Total expected bytes
	Progress  float64 // 0.0 to 1.0
	Speed     float64 // bytes/sec, 0 until the estimator has a sample
	Reason    string  // Failure reason, empty otherwise
}

// DeviceEvent carries the paired device's mirrored status.
type DeviceEvent struct {
	BaseEvent
	DeviceName string
	Battery    int
	Charging   bool
}

// LinkEvent carries link connect/disconnect details.
type LinkEvent struct {
	BaseEvent
	RemoteAddr string
	DeviceName string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers. Never blocks: a subscriber with
// a full buffer misses the event and the dropped counter is incremented.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
