package eventbus

import "testing"

func TestPublishFanoutAndDrop(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(1)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // ch1 is full, dropped there

	if e := <-ch1; e.Type != "a" || e.Time.IsZero() {
		t.Fatalf("ch1 got %+v", e)
	}
	if got := len(ch2); got != 2 {
		t.Fatalf("ch2 len = %d, want 2", got)
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}

	unsub1()
	unsub1()
	if _, ok := <-ch1; ok {
		t.Fatal("ch1 should be closed after unsubscribe")
	}
	b.Publish(Event{Type: "c"})
}
