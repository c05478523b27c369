package broadcast

import (
	"context"
	"testing"
	"time"

	"velocity/pkg/types"
)

func recvOne(t *testing.T, sub *Subscription) (types.EngineEvent, uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	event, dropped, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return event, dropped
}

func TestFanOut(t *testing.T) {
	t.Parallel()
	b := New(10)

	first := b.Subscribe()
	second := b.Subscribe()
	defer first.Close()
	defer second.Close()

	b.Publish(types.OrderCancelled{ID: 7})

	for _, sub := range []*Subscription{first, second} {
		event, dropped := recvOne(t, sub)
		if dropped != 0 {
			t.Errorf("dropped = %d, want 0", dropped)
		}
		if cancelled, ok := event.(types.OrderCancelled); !ok || cancelled.ID != 7 {
			t.Errorf("event = %+v, want OrderCancelled{7}", event)
		}
	}
}

func TestEmissionOrderPreserved(t *testing.T) {
	t.Parallel()
	b := New(10)
	sub := b.Subscribe()
	defer sub.Close()

	for i := uint64(1); i <= 5; i++ {
		b.Publish(types.OrderCancelled{ID: types.OrderID(i)})
	}
	for i := uint64(1); i <= 5; i++ {
		event, _ := recvOne(t, sub)
		if event.(types.OrderCancelled).ID != types.OrderID(i) {
			t.Fatalf("event out of order: got %+v at position %d", event, i)
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	t.Parallel()
	b := New(3)
	sub := b.Subscribe()
	defer sub.Close()

	for i := uint64(1); i <= 5; i++ {
		b.Publish(types.OrderCancelled{ID: types.OrderID(i)})
	}

	// Capacity 3: events 1 and 2 were dropped, 3..5 remain.
	event, dropped := recvOne(t, sub)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if event.(types.OrderCancelled).ID != 3 {
		t.Errorf("first surviving event = %+v, want id 3", event)
	}

	event, dropped = recvOne(t, sub)
	if dropped != 0 {
		t.Errorf("dropped = %d after catching up, want 0", dropped)
	}
	if event.(types.OrderCancelled).ID != 4 {
		t.Errorf("event = %+v, want id 4", event)
	}
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	t.Parallel()
	b := New(2)
	slow := b.Subscribe()
	fast := b.Subscribe()
	defer slow.Close()
	defer fast.Close()

	for i := uint64(1); i <= 4; i++ {
		b.Publish(types.OrderCancelled{ID: types.OrderID(i)})
		event, dropped := recvOne(t, fast)
		if dropped != 0 {
			t.Fatalf("fast subscriber dropped %d events", dropped)
		}
		if event.(types.OrderCancelled).ID != types.OrderID(i) {
			t.Fatalf("fast subscriber got %+v, want id %d", event, i)
		}
	}

	_, dropped := recvOne(t, slow)
	if dropped != 2 {
		t.Errorf("slow subscriber dropped = %d, want 2", dropped)
	}
}

func TestRecvBlocksUntilPublish(t *testing.T) {
	t.Parallel()
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish(types.OrderCancelled{ID: 1})
	}()

	event, _ := recvOne(t, sub)
	if event.(types.OrderCancelled).ID != 1 {
		t.Errorf("event = %+v, want id 1", event)
	}
}

func TestRecvContextCancelled(t *testing.T) {
	t.Parallel()
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := sub.Recv(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestCloseDrainsThenEnds(t *testing.T) {
	t.Parallel()
	b := New(4)
	sub := b.Subscribe()

	b.Publish(types.OrderCancelled{ID: 1})
	sub.Close()

	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d after close, want 0", b.Subscribers())
	}

	event, _ := recvOne(t, sub)
	if event.(types.OrderCancelled).ID != 1 {
		t.Errorf("event = %+v, want buffered id 1", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := sub.Recv(ctx); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
