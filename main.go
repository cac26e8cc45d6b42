// DeskPair - companion daemon pairing a computer with a mobile device over
// the local network. File transfer both ways, media remote control, device
// status mirroring.
package main

import (
	"os"

	"github.com/deskpair/deskpair/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
