package bus

import "testing"

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	b := New()
	var got []int
	b.Subscribe(MessageSent, func(any) { got = append(got, 1) })
	b.Subscribe(MessageSent, func(any) { got = append(got, 2) })
	b.Emit(MessageSent, nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got %v", got)
	}
}

func TestRemoveStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Subscribe(MessageReceived, func(any) { calls++ })
	b.Emit(MessageReceived, nil)
	sub.Remove()
	sub.Remove() // idempotent
	b.Emit(MessageReceived, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestLateSubscriberObservesNothing(t *testing.T) {
	b := New()
	b.Emit(MessageUpdated, "early")
	calls := 0
	b.Subscribe(MessageUpdated, func(any) { calls++ })
	if calls != 0 {
		t.Fatalf("late subscriber saw a replayed event")
	}
}

func TestPanickingListenerDoesNotBreakDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(MessagesSeen, func(any) { panic("boom") })
	b.Subscribe(MessagesSeen, func(any) { calls++ })
	b.Emit(MessagesSeen, nil)
	if calls != 1 {
		t.Fatalf("second listener not reached after panic, calls=%d", calls)
	}
}

func TestEmitPassesPayload(t *testing.T) {
	b := New()
	var got any
	b.Subscribe(MessageSent, func(p any) { got = p })
	b.Emit(MessageSent, 42)
	if got != 42 {
		t.Fatalf("expected payload 42, got %v", got)
	}
}
