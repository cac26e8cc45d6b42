package transfer

import (
	"testing"
)

func TestDirectionString(t *testing.T) {
	if DirectionOutgoing.String() != "outgoing" {
		t.Errorf("Expected 'outgoing', got %q", DirectionOutgoing.String())
	}
	if DirectionIncoming.String() != "incoming" {
		t.Errorf("Expected 'incoming', got %q", DirectionIncoming.String())
	}
}

func TestStatusTerminal(t *testing.T) {
	if InProgress().Terminal() {
		t.Error("InProgress must not be terminal")
	}
	if !Completed(VerificationPassed).Terminal() {
		t.Error("Completed must be terminal")
	}
	if !Failed("reason").Terminal() {
		t.Error("Failed must be terminal")
	}
}

func TestStatusConstructors(t *testing.T) {
	c := Completed(VerificationFailed)
	if c.State != StateCompleted || c.Verified != VerificationFailed {
		t.Errorf("Unexpected completed status: %+v", c)
	}

	f := Failed("disk full")
	if f.State != StateFailed || f.Reason != "disk full" {
		t.Errorf("Unexpected failed status: %+v", f)
	}
}

func TestProgressEdgeCases(t *testing.T) {
	s := &Session{Size: 0, BytesTransferred: 100}
	if s.Progress() != 0 {
		t.Errorf("Zero-size progress should be 0, got %f", s.Progress())
	}

	s = &Session{Size: -1, BytesTransferred: 0}
	if s.Progress() != 0 {
		t.Errorf("Negative-size progress should be 0, got %f", s.Progress())
	}

	s = &Session{Size: 200, BytesTransferred: 50}
	if s.Progress() != 0.25 {
		t.Errorf("Expected 0.25, got %f", s.Progress())
	}

	s = &Session{Size: 200, BytesTransferred: 200}
	if s.Progress() != 1.0 {
		t.Errorf("Expected 1.0, got %f", s.Progress())
	}
}
