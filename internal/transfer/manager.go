package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskpair/deskpair/internal/constants"
	"github.com/deskpair/deskpair/internal/events"
)

// Failure reasons for the two cancellation paths. User-facing strings.
const (
	ReasonCancelledByUser     = "Cancelled by user"
	ReasonCancelledByReceiver = "Cancelled by receiver"
)

// CancelNotifier delivers a best-effort cancel message to the paired device.
// Implemented by the link layer; delivery failure never rolls back local
// session state.
type CancelNotifier interface {
	NotifyCancel(id string)
}

// Manager owns the session store and the active transfer pointer. All
// mutation funnels through its methods under one mutex, so session state is
// never read-modify-written from two goroutines at once. Progress callbacks
// may arrive on arbitrary transport goroutines; each call serializes here.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// activeID is the session currently highlighted for display, empty when
	// none. Independent of store contents: the session may already be gone.
	activeID string

	// Single-slot dismiss timer. Arming replaces any pending dismissal; the
	// generation counter makes a stopped timer's late firing a no-op.
	dismissTimer *time.Timer
	dismissGen   uint64
	dismissDelay time.Duration

	// highlightNew controls whether newly started transfers grab the
	// active pointer (the UI visibility policy flag).
	highlightNew bool

	clock    Clock
	notifier CancelNotifier
	bus      *events.EventBus
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, for deterministic estimator tests.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithDismissDelay overrides how long a finished transfer stays highlighted.
func WithDismissDelay(d time.Duration) Option {
	return func(m *Manager) { m.dismissDelay = d }
}

// WithHighlightNew sets whether starting a transfer moves the active pointer
// to it.
func WithHighlightNew(enabled bool) Option {
	return func(m *Manager) { m.highlightNew = enabled }
}

// NewManager creates a session manager publishing lifecycle events to bus.
// A nil bus disables event publishing.
func NewManager(bus *events.EventBus, opts ...Option) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		dismissDelay: constants.ActiveDismissDelay,
		highlightNew: true,
		clock:        systemClock{},
		bus:          bus,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCancelNotifier wires the outbound cancel path. Must be called before
// CancelTransfer can reach the remote peer; without it cancellation is
// local-only.
func (m *Manager) SetCancelNotifier(n CancelNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// GenerateID returns a fresh transfer id for locally initiated transfers.
// Incoming transfers carry the id assigned by the sending side.
func GenerateID() string {
	return uuid.NewString()
}

// StartOutgoing creates an in-progress outgoing session. Reusing an id
// overwrites the prior entry.
func (m *Manager) StartOutgoing(id, name string, size int64, mime string, chunkSize int) {
	m.start(id, name, size, mime, DirectionOutgoing, chunkSize)
}

// StartIncoming creates an in-progress incoming session. Reusing an id
// overwrites the prior entry.
func (m *Manager) StartIncoming(id, name string, size int64, mime string) {
	m.start(id, name, size, mime, DirectionIncoming, 0)
}

func (m *Manager) start(id, name string, size int64, mime string, dir Direction, chunkSize int) {
	m.mu.Lock()
	now := m.clock.Now()
	s := &Session{
		ID:             id,
		Name:           name,
		Size:           size,
		MIME:           mime,
		Direction:      dir,
		ChunkSize:      chunkSize,
		StartedAt:      now,
		Status:         InProgress(),
		lastUpdateTime: now,
	}
	m.sessions[id] = s

	if m.highlightNew {
		// A freshly started transfer takes visual precedence and must not
		// be swept away by a dismissal armed for its predecessor.
		m.activeID = id
		m.cancelDismissLocked()
	}
	snap := *s
	m.mu.Unlock()

	m.publish(events.EventTransferStarted, &snap)
}

// UpdateOutgoingProgress records the absolute byte count sent so far.
// Unknown ids and terminal sessions are ignored.
func (m *Manager) UpdateOutgoingProgress(id string, bytesTransferred int64) {
	m.updateProgress(id, bytesTransferred)
}

// UpdateIncomingProgress records the absolute byte count received so far.
// Unknown ids and terminal sessions are ignored.
func (m *Manager) UpdateIncomingProgress(id string, bytesReceived int64) {
	m.updateProgress(id, bytesReceived)
}

func (m *Manager) updateProgress(id string, byteCount int64) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	s.applyProgress(byteCount, m.clock.Now())
	snap := *s
	m.mu.Unlock()

	m.publish(events.EventTransferProgress, &snap)
}

// CompleteIncoming marks an incoming session completed with the reported
// verification outcome and fills the byte counter to the full size.
func (m *Manager) CompleteIncoming(id string, verified Verification) {
	m.complete(id, verified, true)
}

// CompleteOutgoing marks an outgoing session completed with the verification
// outcome acknowledged by the receiver.
func (m *Manager) CompleteOutgoing(id string, verified Verification) {
	m.complete(id, verified, false)
}

func (m *Manager) complete(id string, verified Verification, fillBytes bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	if fillBytes {
		s.BytesTransferred = s.Size
	}
	s.Status = Completed(verified)
	if m.activeID == id {
		m.armDismissLocked()
	}
	snap := *s
	m.mu.Unlock()

	m.publish(events.EventTransferCompleted, &snap)
}

// FailTransfer moves a session to the failed state with a user-facing
// reason. Re-failing overwrites the reason; a completed session stays
// completed. Unknown ids are ignored: late callbacks after cleanup are
// normal operation, not an error.
func (m *Manager) FailTransfer(id, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Status.State == StateCompleted {
		m.mu.Unlock()
		return
	}
	s.Status = Failed(reason)
	if m.activeID == id {
		m.armDismissLocked()
	}
	snap := *s
	m.mu.Unlock()

	m.publish(events.EventTransferFailed, &snap)
}

// CancelTransfer cancels a transfer on the user's initiative: the remote
// peer is told once, best-effort, and the local session fails immediately.
// The failed state is visible as soon as this returns, regardless of
// whether the notification ever arrives.
func (m *Manager) CancelTransfer(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	notifier := m.notifier
	m.mu.Unlock()
	if !ok {
		return
	}

	if notifier != nil {
		notifier.NotifyCancel(id)
	}
	m.FailTransfer(id, ReasonCancelledByUser)
}

// StopTransferRemote handles a cancel initiated by the paired device. No
// notification is sent back, which would otherwise echo forever.
func (m *Manager) StopTransferRemote(id string) {
	m.FailTransfer(id, ReasonCancelledByReceiver)
}

// StopAllTransfers fails every in-progress session with the given reason,
// typically on link disconnect.
func (m *Manager) StopAllTransfers(reason string) {
	m.mu.Lock()
	var snaps []*Session
	activeAffected := false
	for _, s := range m.sessions {
		if s.Status.State != StateInProgress {
			continue
		}
		s.Status = Failed(reason)
		if s.ID == m.activeID {
			activeAffected = true
		}
		snap := *s
		snaps = append(snaps, &snap)
	}
	if activeAffected {
		m.armDismissLocked()
	}
	m.mu.Unlock()

	for _, snap := range snaps {
		m.publish(events.EventTransferFailed, snap)
	}
}

// RemoveCompletedTransfers deletes every completed session from the store,
// whatever its verification outcome. In-progress and failed sessions stay.
// This is the only path that shrinks the store.
func (m *Manager) RemoveCompletedTransfers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Status.State == StateCompleted {
			delete(m.sessions, id)
		}
	}
}

// ClearActiveTransfer drops the highlight and cancels any pending
// dismissal.
func (m *Manager) ClearActiveTransfer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = ""
	m.cancelDismissLocked()
}

// ActiveTransfer returns the highlighted session id, if any.
func (m *Manager) ActiveTransfer() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID, m.activeID != ""
}

// Session returns a copy of the session with the given id.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns copies of all sessions. Ordering is unspecified;
// consumers key by id.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// armDismissLocked schedules clearing of the active pointer, replacing any
// pending dismissal so at most one is ever outstanding. Caller holds m.mu.
func (m *Manager) armDismissLocked() {
	m.cancelDismissLocked()
	gen := m.dismissGen
	m.dismissTimer = time.AfterFunc(m.dismissDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A timer that lost the Stop race fires with a stale generation.
		if m.dismissGen != gen {
			return
		}
		m.activeID = ""
		m.dismissTimer = nil
	})
}

// cancelDismissLocked invalidates any pending dismissal. Caller holds m.mu.
func (m *Manager) cancelDismissLocked() {
	m.dismissGen++
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
		m.dismissTimer = nil
	}
}

func (m *Manager) publish(eventType events.EventType, s *Session) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(&events.TransferEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      time.Now(),
		},
		SessionID: s.ID,
		Name:      s.Name,
		Direction: s.Direction.String(),
		Size:      s.Size,
		Progress:  s.Progress(),
		Speed:     s.Speed,
		Reason:    s.Status.Reason,
	})
}
