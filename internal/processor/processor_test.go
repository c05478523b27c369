package processor

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"velocity/internal/broadcast"
	"velocity/internal/config"
	"velocity/internal/wal"
	"velocity/pkg/types"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		CommandQueueCapacity: 64,
		BroadcastCapacity:    16,
		OrderStorePrealloc:   64,
	}
}

// startProcessor runs a processor and returns it, its broadcaster, and a
// stop function that shuts it down and waits for the WAL to be flushed
// and closed. Stop is idempotent and also registered as cleanup.
func startProcessor(t *testing.T, walPath string) (*Processor, *broadcast.Broadcaster, func()) {
	t.Helper()
	events := broadcast.New(16)
	proc, err := New(testEngineConfig(), config.WALConfig{Path: walPath}, events, slog.Default())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("processor did not stop")
		}
	}
	t.Cleanup(stop)
	return proc, events, stop
}

func placeCmd(id, user uint64, side types.Side, price, qty uint64) (PlaceOrder, chan []types.EngineEvent) {
	reply := make(chan []types.EngineEvent, 1)
	return PlaceOrder{
		UserID:   types.UserID(user),
		OrderID:  types.OrderID(id),
		Side:     side,
		Price:    types.Price(price),
		Quantity: types.Quantity(qty),
		Reply:    reply,
	}, reply
}

func await[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
		panic("unreachable")
	}
}

func TestPlaceAndDepth(t *testing.T) {
	t.Parallel()
	proc, _, _ := startProcessor(t, filepath.Join(t.TempDir(), "engine.wal"))
	ctx := context.Background()

	cmd, reply := placeCmd(1, 1, types.Bid, 100, 10)
	if err := proc.Submit(ctx, cmd); err != nil {
		t.Fatalf("submit: %v", err)
	}
	events := await(t, reply)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if _, ok := events[0].(types.OrderPlaced); !ok {
		t.Fatalf("event = %T, want OrderPlaced", events[0])
	}

	depthReply := make(chan Depth, 1)
	if err := proc.Submit(ctx, GetDepth{Limit: 5, Reply: depthReply}); err != nil {
		t.Fatalf("submit depth: %v", err)
	}
	depth := await(t, depthReply)
	if len(depth.Asks) != 0 {
		t.Errorf("asks = %v, want empty", depth.Asks)
	}
	if len(depth.Bids) != 1 || depth.Bids[0] != (types.Level{Price: 100, Quantity: 10}) {
		t.Errorf("bids = %v, want [(100,10)]", depth.Bids)
	}
}

func TestMatchBroadcastsInEmissionOrder(t *testing.T) {
	t.Parallel()
	proc, events, _ := startProcessor(t, filepath.Join(t.TempDir(), "engine.wal"))
	ctx := context.Background()

	sub := events.Subscribe()
	defer sub.Close()

	cmd, reply := placeCmd(1, 1, types.Ask, 100, 10)
	proc.Submit(ctx, cmd)
	await(t, reply)

	cmd, reply = placeCmd(2, 2, types.Bid, 100, 4)
	proc.Submit(ctx, cmd)
	replyEvents := await(t, reply)
	if len(replyEvents) != 1 {
		t.Fatalf("reply events = %d, want 1", len(replyEvents))
	}

	// Broadcast sequence: placement of order 1, then the trade.
	first, _, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if placed, ok := first.(types.OrderPlaced); !ok || placed.ID != 1 {
		t.Fatalf("first broadcast = %+v, want OrderPlaced{1}", first)
	}
	second, _, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	trade, ok := second.(types.TradeExecuted)
	if !ok || trade != (types.TradeExecuted{MakerID: 1, TakerID: 2, Price: 100, Quantity: 4}) {
		t.Fatalf("second broadcast = %+v, want the trade", second)
	}
}

func TestCancelReplyEmptyForUnknown(t *testing.T) {
	t.Parallel()
	proc, _, _ := startProcessor(t, filepath.Join(t.TempDir(), "engine.wal"))

	reply := make(chan []types.EngineEvent, 1)
	proc.Submit(context.Background(), CancelOrder{UserID: 1, OrderID: 404, Reply: reply})
	if events := await(t, reply); len(events) != 0 {
		t.Errorf("events = %v, want empty", events)
	}
}

func TestCommandsTotallyOrdered(t *testing.T) {
	t.Parallel()
	proc, _, _ := startProcessor(t, filepath.Join(t.TempDir(), "engine.wal"))
	ctx := context.Background()

	// Same-price asks from many users, then one sweeping bid. Replies must
	// reflect submission order via FIFO fill order.
	for i := uint64(1); i <= 5; i++ {
		cmd, reply := placeCmd(i, i, types.Ask, 100, 1)
		if err := proc.Submit(ctx, cmd); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		await(t, reply)
	}

	cmd, reply := placeCmd(99, 99, types.Bid, 100, 5)
	proc.Submit(ctx, cmd)
	events := await(t, reply)
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5 trades", len(events))
	}
	for i, event := range events {
		trade := event.(types.TradeExecuted)
		if trade.MakerID != types.OrderID(i+1) {
			t.Errorf("trade %d maker = %d, want %d", i, trade.MakerID, i+1)
		}
	}
}

func TestCrashRecoveryFromWAL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "engine.wal")

	// A previous engine wrote two intents and crashed.
	w, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if err := w.Append(types.PlaceEntry{OrderID: 1, UserID: 1, Side: types.Ask, Price: 100, Quantity: 10}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(types.PlaceEntry{OrderID: 2, UserID: 2, Side: types.Bid, Price: 100, Quantity: 4}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	events := broadcast.New(16)
	sub := events.Subscribe()
	defer sub.Close()

	proc, err := New(testEngineConfig(), config.WALConfig{Path: path}, events, slog.Default())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	// Replay must not re-broadcast historical events.
	recvCtx, cancelRecv := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelRecv()
	if event, _, err := sub.Recv(recvCtx); err == nil {
		t.Fatalf("unexpected broadcast during replay: %+v", event)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	depthReply := make(chan Depth, 1)
	proc.Submit(ctx, GetDepth{Limit: 10, Reply: depthReply})
	depth := await(t, depthReply)
	if len(depth.Asks) != 1 || depth.Asks[0] != (types.Level{Price: 100, Quantity: 6}) {
		t.Errorf("asks = %v, want [(100,6)]", depth.Asks)
	}
	if len(depth.Bids) != 0 {
		t.Errorf("bids = %v, want empty", depth.Bids)
	}
}

func TestRecoveredStateMatchesOriginal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "engine.wal")
	ctx := context.Background()

	proc, _, stop := startProcessor(t, path)
	for i := uint64(1); i <= 10; i++ {
		side := types.Bid
		if i%2 == 0 {
			side = types.Ask
		}
		cmd, reply := placeCmd(i, i, side, 95+i, 10)
		proc.Submit(ctx, cmd)
		await(t, reply)
	}
	cancelReply := make(chan []types.EngineEvent, 1)
	proc.Submit(ctx, CancelOrder{UserID: 3, OrderID: 3, Reply: cancelReply})
	await(t, cancelReply)

	depthReply := make(chan Depth, 1)
	proc.Submit(ctx, GetDepth{Limit: 20, Reply: depthReply})
	before := await(t, depthReply)

	// Shut down (flushes the WAL) and start a fresh engine on the same log.
	stop()

	proc2, _, _ := startProcessor(t, path)
	depthReply = make(chan Depth, 1)
	proc2.Submit(ctx, GetDepth{Limit: 20, Reply: depthReply})
	after := await(t, depthReply)

	if len(after.Asks) != len(before.Asks) || len(after.Bids) != len(before.Bids) {
		t.Fatalf("depth shape changed: before %+v, after %+v", before, after)
	}
	for i := range before.Asks {
		if before.Asks[i] != after.Asks[i] {
			t.Errorf("ask %d: before %+v, after %+v", i, before.Asks[i], after.Asks[i])
		}
	}
	for i := range before.Bids {
		if before.Bids[i] != after.Bids[i] {
			t.Errorf("bid %d: before %+v, after %+v", i, before.Bids[i], after.Bids[i])
		}
	}
}

func TestSubmitBlockedOnFullQueue(t *testing.T) {
	t.Parallel()

	// No Run loop: the queue fills and stays full, exercising backpressure.
	cfg := testEngineConfig()
	cfg.CommandQueueCapacity = 2
	path := filepath.Join(t.TempDir(), "engine.wal")
	proc, err := New(cfg, config.WALConfig{Path: path}, broadcast.New(4), slog.Default())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	ctx := context.Background()
	reply := make(chan []types.EngineEvent, 1)
	for i := 0; i < 2; i++ {
		if err := proc.Submit(ctx, CancelOrder{UserID: 1, OrderID: 1, Reply: reply}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	blockedCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := proc.Submit(blockedCtx, CancelOrder{UserID: 1, OrderID: 1, Reply: reply}); err == nil {
		t.Fatal("submit to a full queue should fail once the context expires")
	}
}
