package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Signal{Name: SignalDelivered, Data: DeliverySignal{ChatID: 1, Attempts: 1}})

	select {
	case s := <-ch:
		if s.Name != SignalDelivered {
			t.Fatalf("name = %q", s.Name)
		}
		if s.Time.IsZero() {
			t.Fatalf("publish did not stamp time")
		}
		d, ok := s.Data.(DeliverySignal)
		if !ok || d.ChatID != 1 {
			t.Fatalf("payload = %#v", s.Data)
		}
	case <-time.After(time.Second):
		t.Fatalf("signal not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Signal{Name: SignalFailed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	_ = ch
	unsub()
	unsub() // double unsubscribe is safe

	// Publishing after unsubscribe must not panic.
	b.Publish(Signal{Name: SignalBounced})
}
