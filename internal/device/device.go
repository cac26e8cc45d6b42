// Package device mirrors the paired mobile device's self-reported status.
// The mobile side pushes status frames over the link; this store keeps the
// latest one for the UI and publishes a device event per update.
package device

import (
	"sync"
	"time"

	"github.com/deskpair/deskpair/internal/events"
)

// Status is the last state the device reported about itself.
type Status struct {
	Name     string
	Battery  int // percent, 0-100
	Charging bool
	LastSeen time.Time
}

// Store holds the mirrored status. Implements the link layer's StatusSink.
type Store struct {
	mu     sync.RWMutex
	status Status
	seen   bool
	bus    *events.EventBus
}

// NewStore creates a status store publishing updates to bus. A nil bus
// disables publishing.
func NewStore(bus *events.EventBus) *Store {
	return &Store{bus: bus}
}

// UpdateStatus records a status report from the device.
func (s *Store) UpdateStatus(name string, battery int, charging bool) {
	if battery < 0 {
		battery = 0
	}
	if battery > 100 {
		battery = 100
	}

	s.mu.Lock()
	s.status = Status{
		Name:     name,
		Battery:  battery,
		Charging: charging,
		LastSeen: time.Now(),
	}
	s.seen = true
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(&events.DeviceEvent{
			BaseEvent:  events.BaseEvent{EventType: events.EventDeviceStatus, Time: time.Now()},
			DeviceName: name,
			Battery:    battery,
			Charging:   charging,
		})
	}
}

// Current returns the latest status. ok is false until the device has
// reported at least once.
func (s *Store) Current() (status Status, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.seen
}
