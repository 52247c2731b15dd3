package bus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("cycle.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicCycleRepeat, CycleEvent{CycleID: "c1", Repetition: 2})

	select {
	case event := <-sub.Ch():
		if event.Topic != TopicCycleRepeat {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicCycleRepeat)
		}
		ev, ok := event.Payload.(CycleEvent)
		if !ok || ev.Repetition != 2 {
			t.Fatalf("unexpected payload %#v", event.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()
	cycleSub := b.Subscribe("cycle.")
	defer b.Unsubscribe(cycleSub)
	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish(TopicCycleStarted, nil)
	b.Publish(TopicStitchAppended, nil)

	select {
	case event := <-cycleSub.Ch():
		if event.Topic != TopicCycleStarted {
			t.Fatalf("topic = %q", event.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cycle event")
	}
	select {
	case event := <-cycleSub.Ch():
		t.Fatalf("unexpected event on cycleSub: %v", event)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
		case <-time.After(time.Second):
			t.Fatalf("allSub missed event %d", i)
		}
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			b.Publish(TopicStitchAppended, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := len(sub.Ch()); got != defaultBufferSize {
		t.Fatalf("buffered = %d, want %d", got, defaultBufferSize)
	}
	if got := sub.Dropped(); got != defaultBufferSize {
		t.Fatalf("dropped = %d, want %d", got, defaultBufferSize)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(TopicCycleHalted, nil)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(TopicStitchAppended, nil)
		}()
	}
	wg.Wait()
	if got := len(sub.Ch()); got != 10 {
		t.Fatalf("received %d events, want 10", got)
	}
}
