package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deskpair/deskpair/internal/config"
	"github.com/deskpair/deskpair/internal/constants"
	"github.com/deskpair/deskpair/internal/device"
	"github.com/deskpair/deskpair/internal/events"
	"github.com/deskpair/deskpair/internal/link"
	"github.com/deskpair/deskpair/internal/media"
	"github.com/deskpair/deskpair/internal/notify"
	"github.com/deskpair/deskpair/internal/transfer"
)

// shutdownTimeout bounds how long serve waits for the link server to drain.
const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var listenOverride string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing daemon",
		Long: `Run the DeskPair daemon: listen for the mobile device's connection,
receive and send files, relay media commands, and mirror device status.

The pair token comes from deskpair.conf ("deskpair config init" creates
one). When stdin is a terminal an interactive console is available; type
"help" for commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listenOverride)
		},
	}

	cmd.Flags().StringVar(&listenOverride, "listen", "", "Listen address (overrides config)")

	return cmd
}

func runServe(listenOverride string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Link.Listen = listenOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w (run \"deskpair config init\" first)", err)
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	defer bus.Close()

	manager := transfer.NewManager(bus,
		transfer.WithDismissDelay(time.Duration(cfg.Transfer.DismissDelaySeconds)*time.Second),
		transfer.WithHighlightNew(cfg.Transfer.HighlightNew),
	)

	server := link.NewServer(link.ServerConfig{
		Token:       cfg.Link.Token,
		DownloadDir: cfg.Transfer.DownloadFolder,
	}, manager, bus, logger)
	manager.SetCancelNotifier(server)

	devices := device.NewStore(bus)
	server.SetStatusSink(devices)

	notifier := notify.NewNotifier(notify.Config{
		Enabled:              cfg.Notifications.Enabled,
		ShowTransferComplete: cfg.Notifications.ShowTransferComplete,
		ShowTransferFailed:   cfg.Notifications.ShowTransferFailed,
		ShowDeviceEvents:     cfg.Notifications.ShowDeviceEvents,
	}, logger)
	go notifier.Watch(bus)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		console := newConsole(manager, media.NewController(server), devices, server)
		go console.run(rootContext)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.Link.Listen)
	}()

	logger.Info().
		Str("listen", cfg.Link.Listen).
		Str("downloads", cfg.Transfer.DownloadFolder).
		Msg("DeskPair daemon running")

	select {
	case err := <-errCh:
		return err
	case <-rootContext.Done():
	}

	manager.StopAllTransfers("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
