package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deskpair/deskpair/internal/config"
	"github.com/deskpair/deskpair/internal/constants"
	"github.com/deskpair/deskpair/internal/events"
	"github.com/deskpair/deskpair/internal/link"
	"github.com/deskpair/deskpair/internal/progress"
	"github.com/deskpair/deskpair/internal/transfer"
)

func newSendCmd() *cobra.Command {
	var (
		addr      string
		token     string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a running DeskPair daemon",
		Long: `Connect to a DeskPair daemon and transfer a file to it. The receiving
side verifies the file against its SHA-256 checksum.

The pair token is taken from --token, then deskpair.conf, then an
interactive prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], addr, token, chunkSize)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "Daemon address (host:port)")
	cmd.Flags().StringVar(&token, "token", "", "Pair token (default: config file, then prompt)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in bytes (default from config)")

	return cmd
}

func runSend(path, addr, token string, chunkSize int) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if token == "" {
		token = cfg.Link.Token
	}
	if token == "" {
		token, err = promptToken()
		if err != nil {
			return err
		}
	}
	if token == "" {
		return config.ErrMissingToken
	}
	if chunkSize == 0 {
		chunkSize = cfg.Transfer.ChunkSize
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	defer bus.Close()
	manager := transfer.NewManager(bus)

	var reporter progress.Reporter
	if term.IsTerminal(int(os.Stderr.Fd())) {
		reporter = progress.NewCLIProgress()
	} else {
		reporter = progress.NewLogProgress(logger)
	}
	go watchProgress(bus, reporter)

	client, err := link.Dial(rootContext, "ws://"+addr+"/link", token, hostname(), manager)
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info().Str("peer", client.PeerName()).Str("file", path).Msg("Sending file")

	verified, err := client.SendFile(rootContext, path, chunkSize)
	if err != nil {
		reporter.Error(err)
		return err
	}
	reporter.Finish()

	switch verified {
	case transfer.VerificationPassed:
		fmt.Println("Transfer complete (checksum verified).")
	case transfer.VerificationFailed:
		return fmt.Errorf("transfer completed but the receiver's checksum did not match")
	default:
		fmt.Println("Transfer complete (not verified).")
	}
	return nil
}

// watchProgress drives the reporter from transfer lifecycle events.
func watchProgress(bus *events.EventBus, reporter progress.Reporter) {
	started := false
	for event := range bus.SubscribeAll() {
		te, ok := event.(*events.TransferEvent)
		if !ok {
			continue
		}
		switch te.Type() {
		case events.EventTransferStarted:
			reporter.Start(te.Size, te.Name)
			started = true
		case events.EventTransferProgress:
			if started {
				reporter.Update(int64(te.Progress * float64(te.Size)))
			}
		case events.EventTransferCompleted:
			if started {
				reporter.Update(te.Size)
			}
		}
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "desktop"
	}
	return name
}
