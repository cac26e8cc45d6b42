package transfer

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/deskpair/deskpair/internal/events"
)

// fakeClock lets tests drive the estimator deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestStartIncomingCreatesSession(t *testing.T) {
	m := NewManager(nil)

	m.StartIncoming("t1", "photo.jpg", 1000, "image/jpeg")

	s, ok := m.Session("t1")
	if !ok {
		t.Fatal("Session not found after StartIncoming")
	}
	if s.Direction != DirectionIncoming {
		t.Errorf("Expected incoming direction, got %v", s.Direction)
	}
	if s.Status.State != StateInProgress {
		t.Errorf("Expected StateInProgress, got %v", s.Status.State)
	}
	if s.BytesTransferred != 0 {
		t.Errorf("Expected 0 bytes transferred, got %d", s.BytesTransferred)
	}
	if s.ChunkSize != 0 {
		t.Errorf("Incoming session should have chunk size 0, got %d", s.ChunkSize)
	}

	active, ok := m.ActiveTransfer()
	if !ok || active != "t1" {
		t.Errorf("Expected active transfer 't1', got %q (ok=%v)", active, ok)
	}
}

func TestStartOutgoingRecordsChunkSize(t *testing.T) {
	m := NewManager(nil)

	m.StartOutgoing("t1", "report.pdf", 5000, "application/pdf", 1024)

	s, _ := m.Session("t1")
	if s.Direction != DirectionOutgoing {
		t.Errorf("Expected outgoing direction, got %v", s.Direction)
	}
	if s.ChunkSize != 1024 {
		t.Errorf("Expected chunk size 1024, got %d", s.ChunkSize)
	}
}

func TestStartSameIDOverwrites(t *testing.T) {
	m := NewManager(nil)

	m.StartIncoming("t1", "old.bin", 100, "application/octet-stream")
	m.UpdateIncomingProgress("t1", 50)
	m.StartIncoming("t1", "new.bin", 200, "application/octet-stream")

	s, _ := m.Session("t1")
	if s.Name != "new.bin" || s.Size != 200 || s.BytesTransferred != 0 {
		t.Errorf("Recreated session should replace prior entry, got %+v", s)
	}
	if len(m.Sessions()) != 1 {
		t.Errorf("Expected 1 session, got %d", len(m.Sessions()))
	}
}

func TestProgressClamping(t *testing.T) {
	m := NewManager(nil)
	m.StartIncoming("t1", "a.bin", 1000, "application/octet-stream")

	m.UpdateIncomingProgress("t1", 1500)
	s, _ := m.Session("t1")
	if s.BytesTransferred != 1000 {
		t.Errorf("Byte count should clamp to size, got %d", s.BytesTransferred)
	}

	m.UpdateIncomingProgress("t1", -25)
	s, _ = m.Session("t1")
	if s.BytesTransferred != 0 {
		t.Errorf("Byte count should clamp to 0, got %d", s.BytesTransferred)
	}
	if s.Progress() != 0 {
		t.Errorf("Progress should be 0 after clamping, got %f", s.Progress())
	}
}

func TestProgressUnknownIDIsNoOp(t *testing.T) {
	m := NewManager(nil)
	m.StartOutgoing("t1", "a.bin", 100, "application/octet-stream", 64)

	// Must neither panic nor create a session.
	m.UpdateOutgoingProgress("unknown", 10)

	if len(m.Sessions()) != 1 {
		t.Errorf("Unknown-id update must not mutate the store, got %d sessions", len(m.Sessions()))
	}
}

func TestSpeedNotRecomputedWithinSampleInterval(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithClock(clock))
	m.StartIncoming("t1", "a.bin", 100000, "application/octet-stream")

	clock.Advance(time.Second)
	m.UpdateIncomingProgress("t1", 1000)

	s, _ := m.Session("t1")
	if !s.SpeedKnown {
		t.Fatal("Speed should be known after first full interval")
	}
	firstSpeed := s.Speed

	// 500ms later: bytes move, speed must not.
	clock.Advance(500 * time.Millisecond)
	m.UpdateIncomingProgress("t1", 5000)

	s, _ = m.Session("t1")
	if s.BytesTransferred != 5000 {
		t.Errorf("Expected 5000 bytes, got %d", s.BytesTransferred)
	}
	if s.Speed != firstSpeed {
		t.Errorf("Sub-second update changed speed: %f -> %f", firstSpeed, s.Speed)
	}
}

func TestExponentialSmoothing(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithClock(clock))
	m.StartIncoming("t1", "a.bin", 1000000, "application/octet-stream")

	// First interval: 1000 bytes over 1s -> seeds the average at 1000 B/s.
	clock.Advance(time.Second)
	m.UpdateIncomingProgress("t1", 1000)
	s, _ := m.Session("t1")
	if !approxEqual(s.Speed, 1000, 0.01) {
		t.Fatalf("First sample should seed speed, got %f", s.Speed)
	}

	// Second interval: 2000 bytes over 1s -> 0.4*2000 + 0.6*1000 = 1400.
	clock.Advance(time.Second)
	m.UpdateIncomingProgress("t1", 3000)
	s, _ = m.Session("t1")
	if !approxEqual(s.Speed, 1400, 0.01) {
		t.Errorf("Expected smoothed speed 1400, got %f", s.Speed)
	}
}

func TestEstimatorScenario(t *testing.T) {
	// 500 bytes of a 1000-byte file after 1.2s: speed ~417 B/s, ETA ~1.2s.
	clock := newFakeClock()
	m := NewManager(nil, WithClock(clock))
	m.StartIncoming("t1", "notes.txt", 1000, "text/plain")

	clock.Advance(1200 * time.Millisecond)
	m.UpdateIncomingProgress("t1", 500)

	s, _ := m.Session("t1")
	if s.BytesTransferred != 500 {
		t.Errorf("Expected 500 bytes, got %d", s.BytesTransferred)
	}
	if !s.SpeedKnown || !approxEqual(s.Speed, 500.0/1.2, 0.5) {
		t.Errorf("Expected speed ~416.7, got %f (known=%v)", s.Speed, s.SpeedKnown)
	}
	if !s.ETAKnown {
		t.Fatal("ETA should be known")
	}
	if !approxEqual(s.ETA.Seconds(), 1.2, 0.01) {
		t.Errorf("Expected ETA ~1.2s, got %s", s.ETA)
	}
}

func TestNegativeDiffTolerated(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithClock(clock))
	m.StartIncoming("t1", "a.bin", 10000, "application/octet-stream")

	m.UpdateIncomingProgress("t1", 800)
	// Out-of-order sample going backwards: accepted, not rejected.
	m.UpdateIncomingProgress("t1", 600)

	s, _ := m.Session("t1")
	if s.BytesTransferred != 600 {
		t.Errorf("Expected 600 bytes after backwards sample, got %d", s.BytesTransferred)
	}

	// Accumulated diff is 800 - 200 = 600 over 1s.
	clock.Advance(time.Second)
	m.UpdateIncomingProgress("t1", 600)
	s, _ = m.Session("t1")
	if !approxEqual(s.Speed, 600, 0.01) {
		t.Errorf("Expected speed 600, got %f", s.Speed)
	}
}

func TestETAAbsentWhenSpeedNotPositive(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithClock(clock))
	m.StartIncoming("t1", "a.bin", 10000, "application/octet-stream")

	// No bytes in the first interval: speed 0, ETA must stay absent.
	clock.Advance(time.Second)
	m.UpdateIncomingProgress("t1", 0)

	s, _ := m.Session("t1")
	if !s.SpeedKnown {
		t.Fatal("Speed should be known (zero) after a full interval")
	}
	if s.Speed != 0 {
		t.Errorf("Expected speed 0, got %f", s.Speed)
	}
	if s.ETAKnown {
		t.Error("ETA must be absent while speed is not strictly positive")
	}
}

func TestTerminalStateIsOneWay(t *testing.T) {
	m := NewManager(nil)

	m.StartIncoming("t1", "a.bin", 1000, "application/octet-stream")
	m.CompleteIncoming("t1", VerificationPassed)
	m.FailTransfer("t1", "too late")

	s, _ := m.Session("t1")
	if s.Status.State != StateCompleted {
		t.Errorf("Completed session must not become failed, got %v", s.Status.State)
	}
	if s.Status.Verified != VerificationPassed {
		t.Errorf("Expected VerificationPassed, got %v", s.Status.Verified)
	}

	m.StartIncoming("t2", "b.bin", 1000, "application/octet-stream")
	m.FailTransfer("t2", "io error")
	m.CompleteIncoming("t2", VerificationPassed)

	s, _ = m.Session("t2")
	if s.Status.State != StateFailed {
		t.Errorf("Failed session must not become completed, got %v", s.Status.State)
	}
	if s.Status.Reason != "io error" {
		t.Errorf("Expected reason 'io error', got %q", s.Status.Reason)
	}
}

func TestProgressIgnoredAfterTerminal(t *testing.T) {
	m := NewManager(nil)
	m.StartIncoming("t1", "a.bin", 1000, "application/octet-stream")
	m.FailTransfer("t1", "dropped")

	m.UpdateIncomingProgress("t1", 900)

	s, _ := m.Session("t1")
	if s.BytesTransferred != 0 {
		t.Errorf("Terminal session bytes must not change, got %d", s.BytesTransferred)
	}
}

func TestFailOverwritesReason(t *testing.T) {
	m := NewManager(nil)
	m.StartIncoming("t1", "a.bin", 1000, "application/octet-stream")

	m.FailTransfer("t1", "first")
	m.FailTransfer("t1", "second")

	s, _ := m.Session("t1")
	if s.Status.Reason != "second" {
		t.Errorf("Re-failing should overwrite the reason, got %q", s.Status.Reason)
	}
}

func TestCompleteIncomingFillsBytes(t *testing.T) {
	m := NewManager(nil)
	m.StartIncoming("t1", "a.bin", 1000, "application/octet-stream")
	m.UpdateIncomingProgress("t1", 400)

	m.CompleteIncoming("t1", VerificationUnknown)

	s, _ := m.Session("t1")
	if s.BytesTransferred != 1000 {
		t.Errorf("CompleteIncoming should fill the byte counter, got %d", s.BytesTransferred)
	}
	if s.Progress() != 1.0 {
		t.Errorf("Expected progress 1.0, got %f", s.Progress())
	}
}

func TestRemoveCompletedTransfers(t *testing.T) {
	m := NewManager(nil)
	m.StartIncoming("done", "a.bin", 100, "application/octet-stream")
	m.StartIncoming("doneUnverified", "b.bin", 100, "application/octet-stream")
	m.StartIncoming("failed", "c.bin", 100, "application/octet-stream")
	m.StartIncoming("running", "d.bin", 100, "application/octet-stream")

	m.UpdateIncomingProgress("running", 40)
	m.CompleteIncoming("done", VerificationPassed)
	m.CompleteIncoming("doneUnverified", VerificationUnknown)
	m.FailTransfer("failed", "oops")

	m.RemoveCompletedTransfers()

	if _, ok := m.Session("done"); ok {
		t.Error("Completed session should be removed")
	}
	if _, ok := m.Session("doneUnverified"); ok {
		t.Error("Completed session should be removed regardless of verification")
	}
	failed, ok := m.Session("failed")
	if !ok {
		t.Fatal("Failed session should remain")
	}
	if failed.Status.Reason != "oops" {
		t.Errorf("Failed session fields must be untouched, got reason %q", failed.Status.Reason)
	}
	running, ok := m.Session("running")
	if !ok {
		t.Fatal("In-progress session should remain")
	}
	if running.BytesTransferred != 40 {
		t.Errorf("In-progress session fields must be untouched, got %d bytes", running.BytesTransferred)
	}
}

func TestDismissClearsActiveAfterDelay(t *testing.T) {
	m := NewManager(nil, WithDismissDelay(30*time.Millisecond))
	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")

	m.CompleteIncoming("t1", VerificationPassed)

	if _, ok := m.ActiveTransfer(); !ok {
		t.Fatal("Active pointer should survive until the dismiss fires")
	}

	time.Sleep(100 * time.Millisecond)

	if id, ok := m.ActiveTransfer(); ok {
		t.Errorf("Active pointer should be cleared after dismiss delay, still %q", id)
	}
	// The session itself stays in the store; only the highlight goes away.
	if _, ok := m.Session("t1"); !ok {
		t.Error("Dismissal must not remove the session from the store")
	}
}

func TestDismissNotArmedForInactiveSession(t *testing.T) {
	m := NewManager(nil, WithDismissDelay(30*time.Millisecond))
	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")
	m.StartIncoming("t2", "b.bin", 100, "application/octet-stream")

	// t2 is active; finishing t1 must not arm a dismissal.
	m.CompleteIncoming("t1", VerificationPassed)
	time.Sleep(100 * time.Millisecond)

	if id, ok := m.ActiveTransfer(); !ok || id != "t2" {
		t.Errorf("Active pointer should still be 't2', got %q (ok=%v)", id, ok)
	}
}

func TestRearmReplacesPendingDismiss(t *testing.T) {
	m := NewManager(nil, WithDismissDelay(60*time.Millisecond))
	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")

	// Two arms in quick succession: only the latest may fire, and only
	// once, at its own deadline.
	m.FailTransfer("t1", "first")
	time.Sleep(40 * time.Millisecond)
	m.ClearActiveTransfer()
	m.StartIncoming("t2", "b.bin", 100, "application/octet-stream")
	m.FailTransfer("t2", "second")

	// 40ms in: the first arm's deadline has passed but it was replaced.
	time.Sleep(40 * time.Millisecond)
	if id, ok := m.ActiveTransfer(); !ok || id != "t2" {
		t.Errorf("Replaced dismissal must not fire early, active=%q (ok=%v)", id, ok)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := m.ActiveTransfer(); ok {
		t.Error("Latest dismissal should have fired")
	}
}

func TestNewTransferCancelsPendingDismiss(t *testing.T) {
	m := NewManager(nil, WithDismissDelay(40*time.Millisecond))
	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")
	m.CompleteIncoming("t1", VerificationPassed)

	// A new transfer takes the highlight and must not be auto-dismissed
	// by the timer armed for its predecessor.
	m.StartIncoming("t2", "b.bin", 100, "application/octet-stream")

	time.Sleep(100 * time.Millisecond)

	if id, ok := m.ActiveTransfer(); !ok || id != "t2" {
		t.Errorf("New transfer should hold the highlight, got %q (ok=%v)", id, ok)
	}
}

func TestClearActiveTransferCancelsDismiss(t *testing.T) {
	m := NewManager(nil, WithDismissDelay(30*time.Millisecond))
	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")
	m.CompleteIncoming("t1", VerificationPassed)

	m.ClearActiveTransfer()

	if _, ok := m.ActiveTransfer(); ok {
		t.Error("ClearActiveTransfer should clear the pointer immediately")
	}
	// The cancelled timer must not resurrect or clear anything later.
	m.StartIncoming("t2", "b.bin", 100, "application/octet-stream")
	time.Sleep(60 * time.Millisecond)
	if id, ok := m.ActiveTransfer(); !ok || id != "t2" {
		t.Errorf("Stale dismissal fired after cancel, active=%q (ok=%v)", id, ok)
	}
}

// recordingNotifier captures outbound cancel notifications.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) NotifyCancel(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *recordingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make([]string, len(n.ids))
	copy(cp, n.ids)
	return cp
}

func TestCancelTransferNotifiesOnceAndFails(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(nil)
	m.SetCancelNotifier(notifier)

	m.StartOutgoing("t2", "a.bin", 100, "application/octet-stream", 64)
	m.CancelTransfer("t2")

	calls := notifier.calls()
	if len(calls) != 1 || calls[0] != "t2" {
		t.Errorf("Expected exactly one cancel notification for 't2', got %v", calls)
	}

	s, _ := m.Session("t2")
	if s.Status.State != StateFailed || s.Status.Reason != ReasonCancelledByUser {
		t.Errorf("Expected failed(%q), got %+v", ReasonCancelledByUser, s.Status)
	}
}

func TestCancelTransferUnknownIDDoesNotNotify(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(nil)
	m.SetCancelNotifier(notifier)

	m.CancelTransfer("ghost")

	if len(notifier.calls()) != 0 {
		t.Errorf("Unknown id must not emit a notification, got %v", notifier.calls())
	}
}

func TestStopTransferRemoteDoesNotEcho(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(nil)
	m.SetCancelNotifier(notifier)

	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")
	m.StopTransferRemote("t1")

	if len(notifier.calls()) != 0 {
		t.Errorf("Remote-initiated cancel must not notify back, got %v", notifier.calls())
	}
	s, _ := m.Session("t1")
	if s.Status.Reason != ReasonCancelledByReceiver {
		t.Errorf("Expected reason %q, got %q", ReasonCancelledByReceiver, s.Status.Reason)
	}
}

func TestStopAllTransfers(t *testing.T) {
	m := NewManager(nil, WithDismissDelay(30*time.Millisecond))
	m.StartIncoming("a", "a.bin", 100, "application/octet-stream")
	m.StartIncoming("b", "b.bin", 100, "application/octet-stream")
	m.CompleteIncoming("b", VerificationPassed)
	m.StartIncoming("c", "c.bin", 100, "application/octet-stream")

	m.StopAllTransfers("link lost")

	for _, id := range []string{"a", "c"} {
		s, _ := m.Session(id)
		if s.Status.State != StateFailed || s.Status.Reason != "link lost" {
			t.Errorf("Session %q should be failed('link lost'), got %+v", id, s.Status)
		}
	}
	b, _ := m.Session("b")
	if b.Status.State != StateCompleted {
		t.Errorf("Completed session must be untouched by StopAllTransfers, got %v", b.Status.State)
	}

	// "c" holds the highlight, so the dismissal was armed.
	time.Sleep(80 * time.Millisecond)
	if _, ok := m.ActiveTransfer(); ok {
		t.Error("Active pointer should be dismissed after StopAllTransfers")
	}
}

func TestHighlightPolicyDisabled(t *testing.T) {
	m := NewManager(nil, WithHighlightNew(false))
	m.StartIncoming("t1", "a.bin", 100, "application/octet-stream")

	if id, ok := m.ActiveTransfer(); ok {
		t.Errorf("Highlight policy disabled: no active pointer expected, got %q", id)
	}
}

func TestManagerPublishesLifecycleEvents(t *testing.T) {
	bus := events.NewEventBus(100)
	defer bus.Close()
	m := NewManager(bus)

	startedCh := bus.Subscribe(events.EventTransferStarted)
	progressCh := bus.Subscribe(events.EventTransferProgress)
	completedCh := bus.Subscribe(events.EventTransferCompleted)

	m.StartIncoming("t1", "event.dat", 100, "application/octet-stream")

	select {
	case event := <-startedCh:
		te := event.(*events.TransferEvent)
		if te.SessionID != "t1" || te.Direction != "incoming" {
			t.Errorf("Unexpected started event: %+v", te)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for started event")
	}

	m.UpdateIncomingProgress("t1", 50)
	select {
	case event := <-progressCh:
		te := event.(*events.TransferEvent)
		if te.Progress != 0.5 {
			t.Errorf("Expected progress 0.5, got %f", te.Progress)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for progress event")
	}

	m.CompleteIncoming("t1", VerificationPassed)
	select {
	case event := <-completedCh:
		te := event.(*events.TransferEvent)
		if te.Progress != 1.0 {
			t.Errorf("Expected progress 1.0, got %f", te.Progress)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for completed event")
	}
}

func TestConcurrentProgressUpdates(t *testing.T) {
	m := NewManager(nil)
	m.StartIncoming("t1", "a.bin", 1000000, "application/octet-stream")
	m.StartOutgoing("t2", "b.bin", 1000000, "application/octet-stream", 64)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.UpdateIncomingProgress("t1", int64(n*1000+j))
				m.UpdateOutgoingProgress("t2", int64(n*1000+j))
			}
		}(i)
	}
	wg.Wait()

	s, _ := m.Session("t1")
	if s.BytesTransferred < 0 || s.BytesTransferred > s.Size {
		t.Errorf("Byte counter out of range after concurrent updates: %d", s.BytesTransferred)
	}
}

func TestGenerateIDUnique(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == "" || a == b {
		t.Errorf("GenerateID should produce unique non-empty ids, got %q and %q", a, b)
	}
}
