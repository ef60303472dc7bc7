package events

import (
	"errors"
	"testing"
	"time"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("expected non-nil bus")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	if bus.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}
	if ch1 == nil || ch2 == nil {
		t.Error("expected non-nil channels")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewSessionStartedEvent("user-1", "RegularUser"))

	select {
	case received := <-ch:
		if received.Type != EventSessionStarted {
			t.Errorf("expected type %s, got %s", EventSessionStarted, received.Type)
		}
		if received.SessionID != "user-1" {
			t.Errorf("expected user-1, got %s", received.SessionID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewRunStartedEvent("quick", 10))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type != EventRunStarted {
				t.Errorf("subscriber %d: expected type %s, got %s", i, EventRunStarted, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1

	ch := bus.Subscribe()

	// バッファを超えても Publish はブロックしない
	bus.Publish(NewActionFailedEvent("user-1", "Check Balance", 500, nil))
	bus.Publish(NewActionFailedEvent("user-2", "Check Balance", 500, nil))
	bus.Publish(NewActionFailedEvent("user-3", "Check Balance", 500, nil))

	select {
	case ev := <-ch:
		if ev.SessionID != "user-1" {
			t.Errorf("expected first event to survive, got %s", ev.SessionID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for first event")
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", bus.SubscriberCount())
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for channel close")
	}
}

func TestBusSubscribeFiltered(t *testing.T) {
	bus := NewBus()

	all := bus.Subscribe()
	quiet := bus.Subscribe(ExcludeTypes([]string{"action_failed"})...)
	none := bus.Subscribe([]EventType{}...)

	bus.Publish(NewActionFailedEvent("user-1", "Check Balance", 500, nil))
	bus.Publish(NewSessionStartedEvent("user-1", "RegularUser"))

	if got := len(all); got != 2 {
		t.Errorf("expected 2 events for unfiltered subscriber, got %d", got)
	}
	if got := len(quiet); got != 1 {
		t.Fatalf("expected 1 event for filtered subscriber, got %d", got)
	}
	if ev := <-quiet; ev.Type != EventSessionStarted {
		t.Errorf("expected %s, got %s", EventSessionStarted, ev.Type)
	}
	if got := len(none); got != 0 {
		t.Errorf("expected no events for empty filter, got %d", got)
	}
}

func TestExcludeTypes(t *testing.T) {
	if got := ExcludeTypes(nil); got != nil {
		t.Errorf("expected nil for no exclusions, got %v", got)
	}

	got := ExcludeTypes([]string{"Action_Failed, session_started", "unknown"})
	if len(got) != len(AllTypes)-2 {
		t.Fatalf("expected %d types, got %v", len(AllTypes)-2, got)
	}
	for _, typ := range got {
		if typ == EventActionFailed || typ == EventSessionStarted {
			t.Errorf("expected %s to be excluded", typ)
		}
	}
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	ch := bus.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel from closed bus")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	// 閉じた後の Publish と Unsubscribe は何もしない
	bus.Publish(NewRunStartedEvent("quick", 1))
	bus.Unsubscribe(ch)
}

func TestEventCreation(t *testing.T) {
	t.Run("RunEvents", func(t *testing.T) {
		started := NewRunStartedEvent("baseline", 50)
		if started.Type != EventRunStarted {
			t.Errorf("expected %s, got %s", EventRunStarted, started.Type)
		}
		if started.Data.Users != 50 || started.Data.Scenario != "baseline" {
			t.Errorf("unexpected data: %+v", started.Data)
		}

		done := NewRunCompletedEvent("baseline", 1500*time.Millisecond)
		if done.Data.Duration != "1.5s" {
			t.Errorf("expected 1.5s, got %s", done.Data.Duration)
		}
	})

	t.Run("SessionStopped", func(t *testing.T) {
		ev := NewSessionStoppedEvent("user-3", StopReasonAborted, errors.New("login failed"))
		if ev.Data.Reason != StopReasonAborted {
			t.Errorf("expected aborted, got %s", ev.Data.Reason)
		}
		if ev.Data.Error != "login failed" {
			t.Errorf("expected error message, got %q", ev.Data.Error)
		}

		ev = NewSessionStoppedEvent("user-3", StopReasonFinished, nil)
		if ev.Data.Error != "" {
			t.Errorf("expected empty error, got %q", ev.Data.Error)
		}
	})

	t.Run("ActionFailed", func(t *testing.T) {
		ev := NewActionFailedEvent("user-1", "P2P Transfer", 0, errors.New("connection refused"))
		if ev.Type != EventActionFailed {
			t.Errorf("expected %s, got %s", EventActionFailed, ev.Type)
		}
		if ev.Data.Action != "P2P Transfer" || ev.Data.Status != 0 {
			t.Errorf("unexpected data: %+v", ev.Data)
		}
		if ev.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	})
}
