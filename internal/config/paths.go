// Package config provides configuration management for DeskPair.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath returns the default path for the deskpair.conf file.
//   - Windows: %APPDATA%\DeskPair\deskpair.conf
//   - Unix: ~/.config/deskpair/deskpair.conf
func DefaultConfigPath() (string, error) {
	var configDir string

	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "DeskPair")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "deskpair")
	}

	return filepath.Join(configDir, "deskpair.conf"), nil
}

// DefaultDownloadFolder returns the platform-specific default download folder.
func DefaultDownloadFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return "C:\\Downloads\\DeskPair"
		}
		return "/tmp/deskpair-downloads"
	}
	return filepath.Join(home, "Downloads", "DeskPair")
}

// LogDirectory returns the log directory for the daemon.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\DeskPair\logs
//   - Unix: ~/.config/deskpair/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "deskpair-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "DeskPair", "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "deskpair-logs")
		}
		return filepath.Join(homeDir, ".config", "deskpair", "logs")
	}
	return filepath.Join(configDir, "deskpair", "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't exist.
// Uses 0700 permissions to restrict log access to owner only.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}
