// Package notify provides cross-platform desktop notifications for DeskPair.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/deskpair/deskpair/internal/events"
	"github.com/deskpair/deskpair/internal/logging"
)

// Notifier handles desktop notifications.
type Notifier struct {
	logger *logging.Logger
	cfg    Config
	mu     sync.RWMutex
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent at all.
	Enabled bool

	// ShowTransferComplete shows notifications for finished transfers.
	ShowTransferComplete bool

	// ShowTransferFailed shows notifications for failed transfers.
	ShowTransferFailed bool

	// ShowDeviceEvents shows notifications when the device connects or
	// disconnects.
	ShowDeviceEvents bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ShowTransferComplete: true,
		ShowTransferFailed:   true,
		ShowDeviceEvents:     false, // Disabled by default to avoid spam
	}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg Config, logger *logging.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		cfg:    cfg,
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg.Enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.Enabled
}

func (n *Notifier) config() Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg
}

// TransferComplete sends a notification for a finished transfer.
func (n *Notifier) TransferComplete(name, direction string) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowTransferComplete {
		return
	}

	title := "Transfer Complete"
	verb := "sent"
	if direction == "incoming" {
		verb = "received"
	}
	message := fmt.Sprintf("\"%s\" %s.", truncate(name, 40), verb)

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("file", name).Msg("Failed to send transfer complete notification")
	}
}

// TransferFailed sends a notification for a failed transfer.
func (n *Notifier) TransferFailed(name, reason string) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowTransferFailed {
		return
	}

	title := "Transfer Failed"
	message := fmt.Sprintf("\"%s\" failed:\n%s", truncate(name, 40), truncate(reason, 100))

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("file", name).Msg("Failed to send transfer failed notification")
	}
}

// DeviceConnected sends a notification when the device pairs in.
func (n *Notifier) DeviceConnected(deviceName string) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowDeviceEvents {
		return
	}

	if err := n.send("DeskPair", fmt.Sprintf("%s connected.", truncate(deviceName, 40))); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send device connected notification")
	}
}

// DeviceDisconnected sends a notification when the device drops off.
func (n *Notifier) DeviceDisconnected(deviceName string) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowDeviceEvents {
		return
	}

	name := deviceName
	if name == "" {
		name = "Device"
	}
	if err := n.send("DeskPair", fmt.Sprintf("%s disconnected.", truncate(name, 40))); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send device disconnected notification")
	}
}

// Watch consumes daemon events and turns them into notifications until the
// bus closes. Run it as a goroutine from the composition root.
func (n *Notifier) Watch(bus *events.EventBus) {
	ch := bus.SubscribeAll()
	for event := range ch {
		switch e := event.(type) {
		case *events.TransferEvent:
			switch e.Type() {
			case events.EventTransferCompleted:
				n.TransferComplete(e.Name, e.Direction)
			case events.EventTransferFailed:
				n.TransferFailed(e.Name, e.Reason)
			}
		case *events.LinkEvent:
			switch e.Type() {
			case events.EventLinkConnected:
				n.DeviceConnected(e.DeviceName)
			case events.EventLinkDisconnected:
				n.DeviceDisconnected(e.DeviceName)
			}
		}
	}
}

// send is the internal method that actually sends the notification.
func (n *Notifier) send(title, message string) error {
	// beeep.Notify is cross-platform:
	// - Windows: Uses toast notifications
	// - macOS: Uses NSUserNotificationCenter
	// - Linux: Uses D-Bus notifications
	return beeep.Notify(title, message, "")
}

// Alert sends an alert notification (error level).
// This is for critical issues that require user attention.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}

	title := "DeskPair Alert"

	// Use beeep.Alert which shows a more prominent notification on some platforms
	if err := beeep.Alert(title, message, ""); err != nil {
		// Fall back to regular notify
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("Failed to send alert notification")
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
