package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Type: JobStarted, Data: JobEvent{ScheduleID: 1}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != JobStarted {
				t.Fatalf("type = %s", e.Type)
			}
			if e.Time.IsZero() {
				t.Fatal("publish did not stamp time")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: JobStarted})
	b.Publish(Event{Type: JobSucceeded}) // buffer full; dropped, not blocked

	e := <-ch
	if e.Type != JobStarted {
		t.Fatalf("type = %s", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %s", e.Type)
	default:
	}
}

func TestPublishAfterUnsubscribeIsSafe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Type: JobFailed})
}
