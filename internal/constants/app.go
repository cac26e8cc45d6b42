package constants

import (
	"time"
)

// Transfer session estimator
const (
	// SpeedSmoothingAlpha - weight given to the newest interval speed sample
	// in the exponential moving average. 0.4 favors responsiveness; the
	// 1-second sampling floor below provides the stability.
	SpeedSmoothingAlpha = 0.4

	// SpeedSampleInterval - minimum time between speed recomputations per
	// session. Progress callbacks arrive per chunk and are far too bursty to
	// feed the EMA directly; sub-interval updates only adjust byte counters.
	SpeedSampleInterval = 1 * time.Second
)

// Transfer UI coordination
const (
	// ActiveDismissDelay - how long a finished transfer stays highlighted
	// before the active pointer is cleared. Gives the user time to read the
	// outcome.
	ActiveDismissDelay = 10 * time.Second
)

// Link transport
const (
	// DefaultChunkSize - size of each file chunk sent over the link (64 KB).
	// Chunks ride inside JSON text frames as base64, so keep them small
	// enough that a frame never approaches the read limit.
	DefaultChunkSize = 64 * 1024

	// MaxChunkSize - upper bound accepted from config or the wire (1 MB).
	MaxChunkSize = 1024 * 1024

	// WriteTimeout - deadline for a single websocket write.
	WriteTimeout = 10 * time.Second

	// PongTimeout - read deadline; refreshed by pong frames.
	PongTimeout = 60 * time.Second

	// PingInterval - how often the write pump pings the peer. Must be
	// comfortably below PongTimeout.
	PingInterval = 30 * time.Second

	// SendQueueSize - buffered outbound frames per connection.
	SendQueueSize = 64
)

// Event system
const (
	// EventBusDefaultBuffer - default buffer size for event channels.
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios.
	EventBusMaxBuffer = 4096
)

// Configuration bounds
const (
	// MinDismissDelaySeconds / MaxDismissDelaySeconds - clamp range for the
	// configurable dismiss delay.
	MinDismissDelaySeconds = 1
	MaxDismissDelaySeconds = 300
)
