// Package progress provides a unified interface for progress reporting
// across CLI (progress bars) and headless (log lines) modes.
package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/deskpair/deskpair/internal/logging"
)

// Reporter is the interface for reporting transfer progress.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// LogProgress reports progress through the structured logger. Used when
// stderr is not a terminal.
type LogProgress struct {
	logger *logging.Logger
	desc   string
	total  int64
}

// NewLogProgress creates a logger-backed reporter.
func NewLogProgress(logger *logging.Logger) *LogProgress {
	return &LogProgress{logger: logger}
}

// Start records the total and description for subsequent updates.
func (p *LogProgress) Start(total int64, description string) {
	p.total = total
	p.desc = description
	p.logger.Info().Str("what", description).Int64("bytes", total).Msg("Transfer started")
}

// Update logs the current byte position at debug level to keep the log
// readable at default level.
func (p *LogProgress) Update(current int64) {
	p.logger.Debug().Str("what", p.desc).Int64("current", current).Int64("total", p.total).Msg("Transfer progress")
}

// Finish logs completion.
func (p *LogProgress) Finish() {
	p.logger.Info().Str("what", p.desc).Msg("Transfer finished")
}

// Error logs a transfer error.
func (p *LogProgress) Error(err error) {
	if err != nil {
		p.logger.Error().Err(err).Str("what", p.desc).Msg("Transfer failed")
	}
}

// SetDescription updates the description used in subsequent log lines.
func (p *LogProgress) SetDescription(desc string) {
	p.desc = desc
}
