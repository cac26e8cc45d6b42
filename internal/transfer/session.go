// Package transfer tracks file transfer sessions between the paired devices.
// It owns the session store, the speed/ETA estimator, and the auto-dismiss
// timing for the highlighted transfer. Execution of transfers happens in the
// link layer; this package only observes byte-count updates.
package transfer

import (
	"time"

	"github.com/deskpair/deskpair/internal/constants"
)

// Direction indicates whether a session sends or receives the file.
type Direction uint8

const (
	// DirectionOutgoing represents a file being sent to the paired device.
	DirectionOutgoing Direction = iota
	// DirectionIncoming represents a file being received.
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// State is the lifecycle state of a session.
type State uint8

const (
	// StateInProgress indicates bytes are still expected.
	StateInProgress State = iota
	// StateCompleted indicates the transfer finished successfully.
	StateCompleted
	// StateFailed indicates the transfer failed or was cancelled.
	StateFailed
)

// Verification is the integrity outcome reported by the link layer for a
// completed transfer. The manager records it, it never computes it.
type Verification uint8

const (
	// VerificationUnknown - no integrity information was reported.
	VerificationUnknown Verification = iota
	// VerificationPassed - the reported checksum matched.
	VerificationPassed
	// VerificationFailed - the reported checksum did not match.
	VerificationFailed
)

// Status is the tagged lifecycle state of a session. Verified is meaningful
// only when State is StateCompleted, Reason only when State is StateFailed.
type Status struct {
	State    State
	Verified Verification
	Reason   string
}

// InProgress returns the initial status.
func InProgress() Status {
	return Status{State: StateInProgress}
}

// Completed returns a terminal completed status with the given verification.
func Completed(v Verification) Status {
	return Status{State: StateCompleted, Verified: v}
}

// Failed returns a terminal failed status with a user-facing reason.
func Failed(reason string) Status {
	return Status{State: StateFailed, Reason: reason}
}

// Terminal reports whether the status is completed or failed.
func (s Status) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// Session is one file transfer between the paired devices. All mutation goes
// through the Manager; values handed to observers are copies.
type Session struct {
	ID        string
	Name      string
	Size      int64
	MIME      string
	Direction Direction
	ChunkSize int // outgoing only, 0 for incoming

	BytesTransferred int64
	StartedAt        time.Time
	Status           Status

	// Speed is the exponentially smoothed transfer rate in bytes/sec.
	// SpeedKnown is false until the estimator has taken its first sample.
	Speed      float64
	SpeedKnown bool

	// ETA is derived from Speed; ETAKnown is true only while SpeedKnown
	// holds and Speed is strictly positive.
	ETA      time.Duration
	ETAKnown bool

	// Estimator accumulator state, reset each sample tick.
	lastUpdateTime       time.Time
	bytesSinceLastUpdate int64
}

// Progress returns completion in [0, 1]. Undefined sizes report 0.
func (s *Session) Progress() float64 {
	if s.Size <= 0 {
		return 0
	}
	p := float64(s.BytesTransferred) / float64(s.Size)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// applyProgress records a new absolute byte count at time now.
//
// The raw diff may be negative when the transport delivers byte counts out
// of order; it is accumulated as-is rather than rejected, so a late sample
// merely dents the next speed estimate. The stored counter is clamped to
// [0, Size] regardless.
//
// Speed is recomputed at most once per SpeedSampleInterval; more frequent
// updates only adjust the byte counters. Per-chunk callbacks are too bursty
// to feed the EMA directly.
func (s *Session) applyProgress(byteCount int64, now time.Time) {
	diff := byteCount - s.BytesTransferred

	clamped := byteCount
	if clamped < 0 {
		clamped = 0
	}
	if s.Size > 0 && clamped > s.Size {
		clamped = s.Size
	}
	s.BytesTransferred = clamped
	s.bytesSinceLastUpdate += diff

	elapsed := now.Sub(s.lastUpdateTime)
	if elapsed >= constants.SpeedSampleInterval {
		s.sampleSpeed(elapsed)
		s.lastUpdateTime = now
		s.bytesSinceLastUpdate = 0
	}
}

// sampleSpeed folds the bytes accumulated since the last tick into the EMA
// and re-derives the ETA.
func (s *Session) sampleSpeed(elapsed time.Duration) {
	intervalSpeed := float64(s.bytesSinceLastUpdate) / elapsed.Seconds()

	if s.SpeedKnown {
		alpha := constants.SpeedSmoothingAlpha
		s.Speed = alpha*intervalSpeed + (1-alpha)*s.Speed
	} else {
		s.Speed = intervalSpeed
		s.SpeedKnown = true
	}

	if s.Speed > 0 {
		remaining := s.Size - s.BytesTransferred
		if remaining < 0 {
			remaining = 0
		}
		s.ETA = time.Duration(float64(remaining) / s.Speed * float64(time.Second))
		s.ETAKnown = true
	} else {
		s.ETA = 0
		s.ETAKnown = false
	}
}
