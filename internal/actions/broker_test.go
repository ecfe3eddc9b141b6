package actions

import (
	"context"
	"testing"
	"time"
)

func TestBrokerDeliversMatchingActions(t *testing.T) {
	b := NewBroker()
	stream, cancel := b.Subscribe(context.Background(), Selector(TypeStatus))
	defer cancel()

	b.Publish(Action{ID: 1, Type: TypePresence, Users: []PresentUser{}})
	b.Publish(Action{ID: 2, Type: TypeStatus, Status: StatusPublic})

	got := receiveAction(t, stream)
	if got.ID != 2 {
		t.Fatalf("expected the status action, got id %d", got.ID)
	}
	assertNoAction(t, stream)
}

func TestBrokerSelectorAllSeesEverything(t *testing.T) {
	b := NewBroker()
	stream, cancel := b.Subscribe(context.Background(), SelectorAll)
	defer cancel()

	b.Publish(Action{ID: 1, Type: TypeStatus, Status: StatusClosed})
	b.Publish(Action{ID: 2, Type: TypeAnnouncement, Method: MethodNew, AID: 1})
	b.Publish(Action{ID: 3, Type: TypePresence, Users: []PresentUser{}})

	for want := uint64(1); want <= 3; want++ {
		if got := receiveAction(t, stream); got.ID != want {
			t.Fatalf("expected id %d, got %d", want, got.ID)
		}
	}
}

func TestBrokerDropsOldestWhenFull(t *testing.T) {
	b := NewBroker()
	stream, cancel := b.Subscribe(context.Background(), SelectorAll)
	defer cancel()

	total := uint64(subscriberBufferSize + 4)
	for id := uint64(1); id <= total; id++ {
		b.Publish(Action{ID: id, Type: TypeStatus, Status: StatusPublic})
	}

	// the oldest 4 were shed, the newest bufferSize survive in order
	for want := total - subscriberBufferSize + 1; want <= total; want++ {
		got := receiveAction(t, stream)
		if got.ID != want {
			t.Fatalf("expected id %d, got %d", want, got.ID)
		}
	}
	assertNoAction(t, stream)
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	b := NewBroker()
	stream, cancel := b.Subscribe(context.Background(), SelectorAll)

	cancel()
	b.Publish(Action{ID: 1, Type: TypeStatus, Status: StatusPublic})
	assertNoAction(t, stream)
}

func TestBrokerContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroker()
	ctx, cancelCtx := context.WithCancel(context.Background())
	_, cancel := b.Subscribe(ctx, SelectorAll)
	defer cancel()

	cancelCtx()

	deadline := time.Now().Add(time.Second)
	for {
		b.mu.RLock()
		remaining := len(b.subscribers)
		b.mu.RUnlock()
		if remaining == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed, %d remaining", remaining)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBrokerSlowSubscriberDoesNotBlockPeers(t *testing.T) {
	b := NewBroker()
	slow, cancelSlow := b.Subscribe(context.Background(), SelectorAll)
	defer cancelSlow()
	fast, cancelFast := b.Subscribe(context.Background(), SelectorAll)
	defer cancelFast()

	total := uint64(subscriberBufferSize * 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := uint64(1); id <= total; id++ {
			b.Publish(Action{ID: id, Type: TypeStatus, Status: StatusPublic})
			// keep the fast reader drained
			<-fast
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	_ = slow
}

func receiveAction(t *testing.T, stream <-chan Action) Action {
	t.Helper()
	select {
	case a := <-stream:
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action")
		return Action{}
	}
}

func assertNoAction(t *testing.T, stream <-chan Action) {
	t.Helper()
	select {
	case a := <-stream:
		t.Fatalf("unexpected action id %d", a.ID)
	default:
	}
}
