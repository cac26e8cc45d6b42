package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/deskpair/deskpair/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the deskpair.conf configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file with defaults and a fresh pair token",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			cfg := config.New()
			cfg.Link.Token = uuid.NewString()
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", path)
			fmt.Printf("Pair token: %s\n", cfg.Link.Token)
			fmt.Println("Enter this token in the mobile app to pair.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			fmt.Println("[link]")
			fmt.Printf("listen = %s\n", cfg.Link.Listen)
			fmt.Printf("token = %s\n", maskToken(cfg.Link.Token))
			fmt.Println()
			fmt.Println("[transfer]")
			fmt.Printf("download_folder = %s\n", cfg.Transfer.DownloadFolder)
			fmt.Printf("chunk_size = %d\n", cfg.Transfer.ChunkSize)
			fmt.Printf("highlight_new = %t\n", cfg.Transfer.HighlightNew)
			fmt.Printf("dismiss_delay_seconds = %d\n", cfg.Transfer.DismissDelaySeconds)
			fmt.Println()
			fmt.Println("[notifications]")
			fmt.Printf("enabled = %t\n", cfg.Notifications.Enabled)
			fmt.Printf("show_transfer_complete = %t\n", cfg.Notifications.ShowTransferComplete)
			fmt.Printf("show_transfer_failed = %t\n", cfg.Notifications.ShowTransferFailed)
			fmt.Printf("show_device_events = %t\n", cfg.Notifications.ShowDeviceEvents)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			fmt.Println(path)
			return nil
		},
	}
}

// maskToken hides all but the first few characters of the pair token so
// "config show" output is safe to paste into bug reports.
func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
