package unread

import "testing"

func TestResetIsIdempotent(t *testing.T) {
	l := New()
	l.Increment("c1")
	l.ResetForViewer("c1")
	l.ResetForViewer("c1")
	if got := l.Count("c1"); got != 0 {
		t.Fatalf("expected 0 after double reset, got %d", got)
	}
}

func TestIncrementNThenResetYieldsZero(t *testing.T) {
	l := New()
	for i := 0; i < 7; i++ {
		l.Increment("c1")
	}
	if got := l.Count("c1"); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	l.ResetForViewer("c1")
	if got := l.Count("c1"); got != 0 {
		t.Fatalf("expected 0 after reset, got %d", got)
	}
}

func TestResetTouchesOnlyOneConversation(t *testing.T) {
	l := New()
	l.Increment("c1")
	l.Increment("c2")
	l.Increment("c2")
	l.ResetForViewer("c1")
	if got := l.Count("c2"); got != 2 {
		t.Fatalf("reset leaked into another conversation: got %d", got)
	}
}

func TestTotalUnreadSumsAcrossConversations(t *testing.T) {
	l := New()
	l.Increment("c1")
	l.Increment("c2")
	l.Increment("c2")
	if got := l.TotalUnread(); got != 3 {
		t.Fatalf("expected total 3, got %d", got)
	}
	l.ResetForViewer("c2")
	if got := l.TotalUnread(); got != 1 {
		t.Fatalf("expected total 1 after reset, got %d", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Increment("c1")
	snap := l.Snapshot()
	snap["c1"] = 99
	if got := l.Count("c1"); got != 1 {
		t.Fatalf("snapshot mutation leaked into ledger: %d", got)
	}
}
