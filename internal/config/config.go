// Package config provides configuration management for DeskPair.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/deskpair/deskpair/internal/constants"
)

// Config represents the deskpair.conf configuration.
//
// Config file location:
//   - Windows: %APPDATA%\DeskPair\deskpair.conf
//   - Unix: ~/.config/deskpair/deskpair.conf
//
// INI format:
//
//	[link]
//	listen = :8787
//	token = correct-horse-battery
//
//	[transfer]
//	download_folder = /Users/me/Downloads/DeskPair
//	chunk_size = 65536
//	highlight_new = true
//	dismiss_delay_seconds = 10
//
//	[notifications]
//	enabled = true
//	show_transfer_complete = true
//	show_transfer_failed = true
//	show_device_events = false
type Config struct {
	// Link transport settings
	Link LinkConfig

	// Transfer behavior
	Transfer TransferConfig

	// Notification settings
	Notifications NotificationConfig
}

// LinkConfig contains the WebSocket link settings.
type LinkConfig struct {
	// Listen is the address the daemon binds for the device connection.
	// Default: ":8787"
	Listen string `ini:"listen"`

	// Token is the shared pairing secret. Required to serve; a device
	// presenting a different token is rejected.
	Token string `ini:"token"`
}

// TransferConfig contains file transfer settings.
type TransferConfig struct {
	// DownloadFolder is where incoming files are written.
	// Default: ~/Downloads/DeskPair
	DownloadFolder string `ini:"download_folder"`

	// ChunkSize is the outgoing chunk size in bytes.
	// Minimum: 1024, Maximum: 1048576, Default: 65536
	ChunkSize int `ini:"chunk_size"`

	// HighlightNew moves the highlighted-transfer pointer to each newly
	// started transfer. Default: true
	HighlightNew bool `ini:"highlight_new"`

	// DismissDelaySeconds is how long a finished transfer stays
	// highlighted. Minimum: 1, Maximum: 300, Default: 10
	DismissDelaySeconds int `ini:"dismiss_delay_seconds"`
}

// NotificationConfig contains desktop notification settings.
type NotificationConfig struct {
	// Enabled determines if notifications are sent at all.
	Enabled bool `ini:"enabled"`

	// ShowTransferComplete shows notifications for finished transfers.
	ShowTransferComplete bool `ini:"show_transfer_complete"`

	// ShowTransferFailed shows notifications for failed transfers.
	ShowTransferFailed bool `ini:"show_transfer_failed"`

	// ShowDeviceEvents shows notifications on device connect/disconnect.
	ShowDeviceEvents bool `ini:"show_device_events"`
}

// Validation errors
var (
	ErrMissingToken          = errors.New("link token is required")
	ErrMissingListen         = errors.New("link listen address is required")
	ErrMissingDownloadFolder = errors.New("transfer download_folder is required")
)

// minChunkSize is the smallest usable outgoing chunk.
const minChunkSize = 1024

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Link: LinkConfig{
			Listen: ":8787",
			Token:  "",
		},
		Transfer: TransferConfig{
			DownloadFolder:      DefaultDownloadFolder(),
			ChunkSize:           constants.DefaultChunkSize,
			HighlightNew:        true,
			DismissDelaySeconds: int(constants.ActiveDismissDelay.Seconds()),
		},
		Notifications: NotificationConfig{
			Enabled:              true,
			ShowTransferComplete: true,
			ShowTransferFailed:   true,
			ShowDeviceEvents:     false,
		},
	}
}

// Load loads configuration from deskpair.conf.
// If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // Return defaults if config doesn't exist
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load deskpair.conf: %w", err)
	}

	linkSection := iniFile.Section("link")
	cfg.Link.Listen = linkSection.Key("listen").MustString(":8787")
	cfg.Link.Token = linkSection.Key("token").String()

	transferSection := iniFile.Section("transfer")
	cfg.Transfer.DownloadFolder = transferSection.Key("download_folder").MustString(DefaultDownloadFolder())
	cfg.Transfer.ChunkSize = transferSection.Key("chunk_size").MustInt(constants.DefaultChunkSize)
	cfg.Transfer.HighlightNew = transferSection.Key("highlight_new").MustBool(true)
	cfg.Transfer.DismissDelaySeconds = transferSection.Key("dismiss_delay_seconds").MustInt(int(constants.ActiveDismissDelay.Seconds()))

	notifySection := iniFile.Section("notifications")
	cfg.Notifications.Enabled = notifySection.Key("enabled").MustBool(true)
	cfg.Notifications.ShowTransferComplete = notifySection.Key("show_transfer_complete").MustBool(true)
	cfg.Notifications.ShowTransferFailed = notifySection.Key("show_transfer_failed").MustBool(true)
	cfg.Notifications.ShowDeviceEvents = notifySection.Key("show_device_events").MustBool(false)

	cfg.Clamp()
	return cfg, nil
}

// Save saves configuration to deskpair.conf.
// If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	linkSection, err := iniFile.NewSection("link")
	if err != nil {
		return fmt.Errorf("failed to create link section: %w", err)
	}
	linkSection.Key("listen").SetValue(cfg.Link.Listen)
	linkSection.Key("token").SetValue(cfg.Link.Token)

	transferSection, err := iniFile.NewSection("transfer")
	if err != nil {
		return fmt.Errorf("failed to create transfer section: %w", err)
	}
	transferSection.Key("download_folder").SetValue(cfg.Transfer.DownloadFolder)
	transferSection.Key("chunk_size").SetValue(fmt.Sprintf("%d", cfg.Transfer.ChunkSize))
	transferSection.Key("highlight_new").SetValue(fmt.Sprintf("%t", cfg.Transfer.HighlightNew))
	transferSection.Key("dismiss_delay_seconds").SetValue(fmt.Sprintf("%d", cfg.Transfer.DismissDelaySeconds))

	notifySection, err := iniFile.NewSection("notifications")
	if err != nil {
		return fmt.Errorf("failed to create notifications section: %w", err)
	}
	notifySection.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Notifications.Enabled))
	notifySection.Key("show_transfer_complete").SetValue(fmt.Sprintf("%t", cfg.Notifications.ShowTransferComplete))
	notifySection.Key("show_transfer_failed").SetValue(fmt.Sprintf("%t", cfg.Notifications.ShowTransferFailed))
	notifySection.Key("show_device_events").SetValue(fmt.Sprintf("%t", cfg.Notifications.ShowDeviceEvents))

	if err := iniFile.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save deskpair.conf: %w", err)
	}
	return nil
}

// Clamp forces out-of-range numeric settings back into their valid ranges.
// Misconfiguration degrades to defaults instead of refusing to start.
func (c *Config) Clamp() {
	if c.Transfer.ChunkSize < minChunkSize || c.Transfer.ChunkSize > constants.MaxChunkSize {
		c.Transfer.ChunkSize = constants.DefaultChunkSize
	}
	if c.Transfer.DismissDelaySeconds < constants.MinDismissDelaySeconds {
		c.Transfer.DismissDelaySeconds = constants.MinDismissDelaySeconds
	}
	if c.Transfer.DismissDelaySeconds > constants.MaxDismissDelaySeconds {
		c.Transfer.DismissDelaySeconds = constants.MaxDismissDelaySeconds
	}
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Link.Token == "" {
		return ErrMissingToken
	}
	if c.Link.Listen == "" {
		return ErrMissingListen
	}
	if c.Transfer.DownloadFolder == "" {
		return ErrMissingDownloadFolder
	}
	return nil
}
