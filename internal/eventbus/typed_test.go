package eventbus

import "testing"

func TestTypedBusPublishSubscribe(t *testing.T) {
	bus := NewTyped[string]()
	ch := bus.Subscribe()
	bus.Publish("hello")
	v := <-ch
	if v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	if bus.Len() != 1 {
		t.Fatalf("expected 1 subscriber got %d", bus.Len())
	}
	bus.Unsubscribe(ch)
	if bus.Len() != 0 {
		t.Fatalf("expected no subscriber got %d", bus.Len())
	}
}

func TestTypedBusDropsWhenFull(t *testing.T) {
	bus := NewTypedWithBuffer[int](1)
	ch := bus.Subscribe()
	bus.Publish(1)
	bus.Publish(2)
	if v := <-ch; v != 1 {
		t.Fatalf("expected first event got %d", v)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 dropped got %d", bus.Dropped())
	}
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	bus.Publish(3)
	if _, ok := <-bus.Subscribe(); ok {
		t.Fatalf("expected subscribe after close to return a closed channel")
	}
}

func TestTypedBusUnsubscribeAfterClose(t *testing.T) {
	bus := NewTyped[float64]()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}

func TestTypedBusFanOut(t *testing.T) {
	type update struct{ step int }
	bus := NewTypedWithBuffer[update](4)
	subs := []<-chan update{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}
	for i := 1; i <= 3; i++ {
		bus.Publish(update{step: i})
	}
	for n, ch := range subs {
		for want := 1; want <= 3; want++ {
			if got := <-ch; got.step != want {
				t.Fatalf("subscriber %d: expected step %d got %d", n, want, got.step)
			}
		}
	}
	if bus.Dropped() != 0 {
		t.Fatalf("expected no drop got %d", bus.Dropped())
	}
}
