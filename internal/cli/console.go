package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/deskpair/deskpair/internal/device"
	"github.com/deskpair/deskpair/internal/media"
	"github.com/deskpair/deskpair/internal/transfer"
)

// connectedReporter is the slice of the link server the console needs.
type connectedReporter interface {
	Connected() bool
}

// console is the interactive command loop available while serve runs in a
// terminal. It drives the same manager and media controller the link layer
// uses, so everything it shows is live state.
type console struct {
	manager    *transfer.Manager
	controller *media.Controller
	devices    *device.Store
	server     connectedReporter
}

func newConsole(manager *transfer.Manager, controller *media.Controller, devices *device.Store, server connectedReporter) *console {
	return &console{
		manager:    manager,
		controller: controller,
		devices:    devices,
		server:     server,
	}
}

func (c *console) run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.handle(strings.TrimSpace(scanner.Text()))
	}
}

func (c *console) handle(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)

	switch fields[0] {
	case "help":
		c.printHelp()
	case "sessions":
		c.printSessions()
	case "active":
		c.printActive()
	case "cancel":
		if len(fields) != 2 {
			fmt.Println("Usage: cancel <id>")
			return
		}
		c.manager.CancelTransfer(fields[1])
		fmt.Printf("Cancelled %s\n", fields[1])
	case "clear":
		c.manager.RemoveCompletedTransfers()
		c.manager.ClearActiveTransfer()
		fmt.Println("Cleared completed transfers.")
	case "device":
		c.printDevice()
	case "play":
		c.media(c.controller.PlayPause())
	case "next":
		c.media(c.controller.Next())
	case "prev":
		c.media(c.controller.Previous())
	case "vol+":
		c.media(c.controller.VolumeUp())
	case "vol-":
		c.media(c.controller.VolumeDown())
	case "vol":
		if len(fields) != 2 {
			fmt.Println("Usage: vol <0-100>")
			return
		}
		percent, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("Usage: vol <0-100>")
			return
		}
		c.media(c.controller.VolumeSet(percent))
	default:
		fmt.Printf("Unknown command %q (try \"help\")\n", fields[0])
	}
}

func (c *console) printHelp() {
	fmt.Println(`Commands:
  sessions        list transfer sessions
  active          show the highlighted transfer
  cancel <id>     cancel a transfer (notifies the device)
  clear           remove completed transfers
  device          show the paired device's status
  play|next|prev  media control on the device
  vol+|vol-|vol N volume control on the device`)
}

func (c *console) printSessions() {
	sessions := c.manager.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No transfers.")
		return
	}
	for _, s := range sessions {
		state := "in progress"
		switch s.Status.State {
		case transfer.StateCompleted:
			state = "completed"
			if s.Status.Verified == transfer.VerificationPassed {
				state = "completed (verified)"
			} else if s.Status.Verified == transfer.VerificationFailed {
				state = "completed (checksum mismatch)"
			}
		case transfer.StateFailed:
			state = "failed: " + s.Status.Reason
		}

		line := fmt.Sprintf("  %s  %-30s %8s  %3.0f%%  %s",
			shortID(s.ID), s.Name, s.Direction, s.Progress()*100, state)
		if s.SpeedKnown && s.Status.State == transfer.StateInProgress {
			line += fmt.Sprintf("  %s/s", formatBytes(int64(s.Speed)))
			if s.ETAKnown {
				line += fmt.Sprintf("  ETA %s", s.ETA.Round(1e9))
			}
		}
		fmt.Println(line)
	}
}

func (c *console) printActive() {
	id, ok := c.manager.ActiveTransfer()
	if !ok {
		fmt.Println("No highlighted transfer.")
		return
	}
	s, ok := c.manager.Session(id)
	if !ok {
		fmt.Printf("Highlighted transfer %s (session gone).\n", shortID(id))
		return
	}
	fmt.Printf("Highlighted: %s  %s  %.0f%%\n", shortID(s.ID), s.Name, s.Progress()*100)
}

func (c *console) printDevice() {
	if !c.server.Connected() {
		fmt.Println("No device connected.")
		return
	}
	status, ok := c.devices.Current()
	if !ok {
		fmt.Println("Device connected, no status reported yet.")
		return
	}
	charge := ""
	if status.Charging {
		charge = " (charging)"
	}
	fmt.Printf("%s  battery %d%%%s  last seen %s\n",
		status.Name, status.Battery, charge, status.LastSeen.Format("15:04:05"))
}

func (c *console) media(err error) {
	if err != nil {
		fmt.Printf("Media command failed: %v\n", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
