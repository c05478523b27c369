// Package book implements the price-time-priority limit order book.
//
// The book is three collaborating structures:
//   - an order store: a slot-allocated arena holding the orders themselves
//   - two price indices: ordered B-trees of price levels, bids iterated
//     highest-first and asks lowest-first, each level a FIFO of slot indices
//   - an order index: OrderID → slot, for O(1) cancel-by-id
//
// All operations are synchronous and single-threaded; the processor owns
// the book exclusively and concurrency never touches it directly. The book
// has no fallible operations: corrupt indices are programmer error and
// panic. A duplicate order id is not detected (see PlaceLimitOrder).
package book

import (
	"github.com/tidwall/btree"

	"velocity/pkg/types"
)

// priceLevel is a FIFO queue of slot indices resting at one price.
// Queue order is arrival order among surviving orders.
type priceLevel struct {
	price types.Price
	queue []int
}

// Book is a single-symbol limit order book.
type Book struct {
	store *orderStore
	bids  *btree.BTreeG[*priceLevel] // sorted highest price first
	asks  *btree.BTreeG[*priceLevel] // sorted lowest price first
	index map[types.OrderID]int

	// clock stamps resting orders at placement. Nil during WAL replay so
	// recovered orders carry zero timestamps; priority is queue order
	// either way.
	clock func() int64
}

// New creates an empty book with the given order store preallocation.
func New(prealloc int) *Book {
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price > b.price
	})
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price < b.price
	})
	return &Book{
		store: newOrderStore(prealloc),
		bids:  bids,
		asks:  asks,
		index: make(map[types.OrderID]int, prealloc),
	}
}

// SetClock installs the timestamp source for newly resting orders.
// The processor sets it after WAL replay completes.
func (b *Book) SetClock(clock func() int64) {
	b.clock = clock
}

func (b *Book) levels(side types.Side) *btree.BTreeG[*priceLevel] {
	if side == types.Bid {
		return b.bids
	}
	return b.asks
}

// matchable reports whether an incoming order with the given side and
// limit can execute against a resting level at restPrice.
func matchable(side types.Side, limit, restPrice types.Price) bool {
	if side == types.Bid {
		return restPrice <= limit
	}
	return restPrice >= limit
}

// PlaceLimitOrder matches an incoming limit order against the opposite
// side and rests any remainder. It returns the events describing what
// happened, in the order they occurred.
//
// The taker phase walks the opposite index best-price-first. At each
// matchable level the FIFO is consumed from the front. A resting order
// owned by the incoming user is evicted instead of traded (self-trade
// prevention, cancel-maker policy): it is removed and an OrderCancelled
// emitted, and the incoming order consumes no quantity. Otherwise a trade
// executes at the maker's price for min(remaining, maker quantity).
//
// The maker phase rests any positive remainder at the limit price and
// emits OrderPlaced carrying the remaining quantity.
//
// Preconditions: quantity > 0 and price > 0 (checked by the HTTP adapter),
// and id does not currently exist in the book. Id uniqueness is checked
// neither here nor by the adapter; a resting duplicate replaces the earlier
// order's index entry, and the earlier order can then no longer be
// cancelled by id.
func (b *Book) PlaceLimitOrder(id types.OrderID, user types.UserID, side types.Side, price types.Price, quantity types.Quantity) []types.EngineEvent {
	var events []types.EngineEvent
	remaining := quantity
	opp := b.levels(side.Opposite())

	for remaining > 0 {
		level, ok := opp.MinMut()
		if !ok || !matchable(side, price, level.price) {
			break
		}

		i := 0
		for i < len(level.queue) && remaining > 0 {
			slotIdx := level.queue[i]
			maker := b.store.get(slotIdx)

			if maker.UserID == user {
				// STP: evict the maker, consume nothing, keep matching.
				events = append(events, types.OrderCancelled{ID: maker.ID})
				delete(b.index, maker.ID)
				level.queue = append(level.queue[:i], level.queue[i+1:]...)
				b.store.remove(slotIdx)
				continue
			}

			tradeQty := remaining
			if maker.Quantity < tradeQty {
				tradeQty = maker.Quantity
			}
			events = append(events, types.TradeExecuted{
				MakerID:  maker.ID,
				TakerID:  id,
				Price:    level.price,
				Quantity: tradeQty,
			})
			maker.Quantity -= tradeQty
			remaining -= tradeQty

			if maker.Quantity == 0 {
				delete(b.index, maker.ID)
				level.queue = append(level.queue[:i], level.queue[i+1:]...)
				b.store.remove(slotIdx)
			}
		}

		if len(level.queue) == 0 {
			opp.Delete(level)
		}
	}

	if remaining > 0 {
		var ts int64
		if b.clock != nil {
			ts = b.clock()
		}
		slotIdx := b.store.insert(types.Order{
			ID:        id,
			UserID:    user,
			Side:      side,
			Price:     price,
			Quantity:  remaining,
			Timestamp: ts,
		})
		own := b.levels(side)
		if level, ok := own.GetMut(&priceLevel{price: price}); ok {
			level.queue = append(level.queue, slotIdx)
		} else {
			own.Set(&priceLevel{price: price, queue: []int{slotIdx}})
		}
		b.index[id] = slotIdx
		events = append(events, types.OrderPlaced{
			ID:       id,
			UserID:   user,
			Price:    price,
			Quantity: remaining,
			Side:     side,
		})
	}

	return events
}

// CancelOrder removes a resting order. An unknown id, or an id owned by a
// different user, returns an empty event list: cancel races against fills
// are normal, and ownership mismatches must not leak order existence.
func (b *Book) CancelOrder(id types.OrderID, user types.UserID) []types.EngineEvent {
	slotIdx, ok := b.index[id]
	if !ok {
		return nil
	}
	order := b.store.get(slotIdx)
	if order.UserID != user {
		return nil
	}

	side := b.levels(order.Side)
	level, ok := side.GetMut(&priceLevel{price: order.Price})
	if !ok {
		panic("book: resting order without price level")
	}
	// Levels are small; a linear splice is fine.
	for i, idx := range level.queue {
		if idx == slotIdx {
			level.queue = append(level.queue[:i], level.queue[i+1:]...)
			break
		}
	}
	if len(level.queue) == 0 {
		side.Delete(level)
	}

	delete(b.index, id)
	b.store.remove(slotIdx)
	return []types.EngineEvent{types.OrderCancelled{ID: id}}
}

// Depth returns up to limit aggregated levels per side: asks ascending
// from the best (lowest) price, bids descending from the best (highest).
func (b *Book) Depth(limit int) (asks, bids []types.Level) {
	return b.collectDepth(b.asks, limit), b.collectDepth(b.bids, limit)
}

func (b *Book) collectDepth(tr *btree.BTreeG[*priceLevel], limit int) []types.Level {
	out := make([]types.Level, 0, limit)
	tr.Scan(func(level *priceLevel) bool {
		if len(out) >= limit {
			return false
		}
		var total types.Quantity
		for _, slotIdx := range level.queue {
			total += b.store.get(slotIdx).Quantity
		}
		out = append(out, types.Level{Price: level.price, Quantity: total})
		return true
	})
	return out
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (types.Price, bool) {
	level, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (types.Price, bool) {
	level, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}

// Len reports the number of resting orders.
func (b *Book) Len() int {
	return b.store.len()
}
