// Package processor implements the engine's single serialization point.
//
// All writes to the order book happen inside one loop that owns the book,
// the order index, and the WAL writer exclusively. Adapters talk to it
// through a bounded command queue; each command carries a single-shot
// reply channel. Per command the loop runs WAL append (mutating commands
// only), then book apply, then best-effort broadcast of every emitted
// event, then reply. Commands are totally ordered by the queue and every
// observable side effect respects that order.
//
// At startup the processor replays the WAL through the normal book
// mutators. Events produced during replay are discarded: subscribers did
// not exist then and must not see historical events as live.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"velocity/internal/book"
	"velocity/internal/broadcast"
	"velocity/internal/config"
	"velocity/internal/wal"
	"velocity/pkg/types"
)

// Command is the sealed set of requests the processor accepts. Each
// variant carries a caller-supplied reply channel; callers must buffer it
// (capacity 1) so a caller that gave up cannot strand the processor.
type Command interface {
	command()
}

// PlaceOrder asks the engine to match and/or rest a limit order.
type PlaceOrder struct {
	UserID   types.UserID
	OrderID  types.OrderID
	Side     types.Side
	Price    types.Price
	Quantity types.Quantity
	Reply    chan []types.EngineEvent
}

// CancelOrder asks the engine to remove a resting order.
type CancelOrder struct {
	UserID  types.UserID
	OrderID types.OrderID
	Reply   chan []types.EngineEvent
}

// GetDepth asks for the top levels of both sides. Read-only: it is
// neither logged nor broadcast.
type GetDepth struct {
	Limit int
	Reply chan Depth
}

// Depth is the reply to GetDepth. Asks ascend from the best (lowest)
// price, bids descend from the best (highest).
type Depth struct {
	Asks []types.Level
	Bids []types.Level
}

func (PlaceOrder) command()  {}
func (CancelOrder) command() {}
func (GetDepth) command()    {}

// Processor is the serialization actor.
type Processor struct {
	book     *book.Book
	wal      *wal.Writer
	commands chan Command
	events   *broadcast.Broadcaster
	cfg      config.WALConfig
	logger   *slog.Logger
}

// New builds a processor: it instantiates an empty book, replays the WAL
// into it (discarding events), and re-opens the WAL for append.
func New(engineCfg config.EngineConfig, walCfg config.WALConfig, events *broadcast.Broadcaster, logger *slog.Logger) (*Processor, error) {
	logger = logger.With("component", "processor")

	b := book.New(engineCfg.OrderStorePrealloc)
	replayed := 0
	err := wal.Replay(walCfg.Path, func(entry types.LogEntry) error {
		switch e := entry.(type) {
		case types.PlaceEntry:
			b.PlaceLimitOrder(e.OrderID, e.UserID, e.Side, e.Price, e.Quantity)
		case types.CancelEntry:
			b.CancelOrder(e.OrderID, e.UserID)
		}
		replayed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	if replayed > 0 {
		logger.Info("recovered state from WAL", "entries", replayed, "resting_orders", b.Len())
	}
	b.SetClock(func() int64 { return time.Now().UnixNano() })

	w, err := wal.Open(walCfg.Path)
	if err != nil {
		return nil, err
	}

	return &Processor{
		book:     b,
		wal:      w,
		commands: make(chan Command, engineCfg.CommandQueueCapacity),
		events:   events,
		cfg:      walCfg,
		logger:   logger,
	}, nil
}

// Submit enqueues a command. It blocks while the queue is full
// (backpressure) and fails only when ctx is cancelled. A stopped engine is
// not detected: after Run returns, commands are still accepted while the
// queue has room, and they are never processed or replied to.
func (p *Processor) Submit(ctx context.Context, cmd Command) error {
	select {
	case p.commands <- cmd:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit command: %w", ctx.Err())
	}
}

// Run executes the command loop until ctx is cancelled. It must be called
// exactly once; the book is owned by this goroutine for the duration.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("engine started", "queue_capacity", cap(p.commands))

	var flushC <-chan time.Time
	if p.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(p.cfg.FlushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}

	defer func() {
		if err := p.wal.Close(); err != nil {
			p.logger.Error("failed to close WAL", "error", err)
		}
		p.logger.Info("engine stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushC:
			if err := p.wal.Flush(); err != nil {
				p.logger.Error("failed to flush WAL", "error", err)
			}
		case cmd := <-p.commands:
			if !p.handle(cmd) {
				return
			}
		}
	}
}

// handle processes one command. It returns false when a strict-mode WAL
// failure stops the engine.
func (p *Processor) handle(cmd Command) bool {
	switch c := cmd.(type) {
	case PlaceOrder:
		entry := types.PlaceEntry{
			OrderID:  c.OrderID,
			UserID:   c.UserID,
			Side:     c.Side,
			Price:    c.Price,
			Quantity: c.Quantity,
		}
		if !p.persist(entry, c.Reply) {
			return false
		}
		events := p.book.PlaceLimitOrder(c.OrderID, c.UserID, c.Side, c.Price, c.Quantity)
		p.publish(events)
		p.reply(c.Reply, events)

	case CancelOrder:
		entry := types.CancelEntry{OrderID: c.OrderID, UserID: c.UserID}
		if !p.persist(entry, c.Reply) {
			return false
		}
		events := p.book.CancelOrder(c.OrderID, c.UserID)
		p.publish(events)
		p.reply(c.Reply, events)

	case GetDepth:
		asks, bids := p.book.Depth(c.Limit)
		select {
		case c.Reply <- Depth{Asks: asks, Bids: bids}:
		default:
		}
	}
	return true
}

// persist appends the intent to the WAL before any memory mutation. In
// the default policy an append failure is logged and the command proceeds;
// in strict mode the command is refused (empty reply) and the engine
// stops, so disk and memory cannot drift.
func (p *Processor) persist(entry types.LogEntry, reply chan []types.EngineEvent) bool {
	err := p.wal.Append(entry)
	if err == nil {
		return true
	}
	p.logger.Error("failed to write WAL entry", "error", err, "strict", p.cfg.Strict)
	if !p.cfg.Strict {
		return true
	}
	p.reply(reply, nil)
	return false
}

func (p *Processor) publish(events []types.EngineEvent) {
	for _, event := range events {
		p.events.Publish(event)
	}
}

// reply signals completion through the single-shot reply channel. The
// send never blocks: a caller that timed out and dropped its handle must
// treat the outcome as unknown, and the command commits regardless.
func (p *Processor) reply(ch chan []types.EngineEvent, events []types.EngineEvent) {
	select {
	case ch <- events:
	default:
	}
}
