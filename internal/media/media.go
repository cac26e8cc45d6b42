// Package media relays playback control commands to the paired device. The
// desktop never synthesizes key events itself; it only tells the device what
// the user asked for.
package media

import (
	"fmt"

	"github.com/deskpair/deskpair/internal/link"
)

// Command names understood by the mobile side.
const (
	CommandPlayPause  = "play_pause"
	CommandNext       = "next"
	CommandPrevious   = "previous"
	CommandVolumeUp   = "volume_up"
	CommandVolumeDown = "volume_down"
	CommandVolumeSet  = "volume_set"
)

// Sender delivers a typed frame to the connected device. Satisfied by the
// link server.
type Sender interface {
	Send(msgType string, payload interface{}) error
}

// Controller issues media commands over the link.
type Controller struct {
	sender Sender
}

// NewController creates a media controller sending through sender.
func NewController(sender Sender) *Controller {
	return &Controller{sender: sender}
}

// PlayPause toggles playback.
func (c *Controller) PlayPause() error {
	return c.send(CommandPlayPause, 0)
}

// Next skips to the next track.
func (c *Controller) Next() error {
	return c.send(CommandNext, 0)
}

// Previous returns to the previous track.
func (c *Controller) Previous() error {
	return c.send(CommandPrevious, 0)
}

// VolumeUp raises the volume one step.
func (c *Controller) VolumeUp() error {
	return c.send(CommandVolumeUp, 0)
}

// VolumeDown lowers the volume one step.
func (c *Controller) VolumeDown() error {
	return c.send(CommandVolumeDown, 0)
}

// VolumeSet sets an absolute volume percentage.
func (c *Controller) VolumeSet(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("volume %d out of range 0-100", percent)
	}
	return c.send(CommandVolumeSet, percent)
}

func (c *Controller) send(command string, value int) error {
	return c.sender.Send(link.TypeMediaCommand, link.MediaCommandPayload{
		Command: command,
		Value:   value,
	})
}
