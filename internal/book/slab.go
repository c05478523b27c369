package book

import "velocity/pkg/types"

// orderStore is a slot-allocated arena of orders. Slots are addressed by
// index, freed slots go on a free list and are reused by later inserts, so
// steady-state placement does not allocate. Orders are referenced from the
// price-level queues and the order-id index by slot index only; a reused
// index never aliases a removed order because every book operation fully
// reconciles all three structures before returning.
type orderStore struct {
	slots []slot
	free  []int
	live  int
}

type slot struct {
	order types.Order
	used  bool
}

func newOrderStore(prealloc int) *orderStore {
	if prealloc < 0 {
		prealloc = 0
	}
	return &orderStore{
		slots: make([]slot, 0, prealloc),
	}
}

// insert places an order into a free slot and returns its index.
func (s *orderStore) insert(o types.Order) int {
	s.live++
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx] = slot{order: o, used: true}
		return idx
	}
	s.slots = append(s.slots, slot{order: o, used: true})
	return len(s.slots) - 1
}

// get returns the order at idx. The pointer is valid until the slot is
// removed; callers mutate Quantity through it during matching.
func (s *orderStore) get(idx int) *types.Order {
	return &s.slots[idx].order
}

// remove frees the slot at idx for reuse. Removing a free slot is a
// programmer error and panics.
func (s *orderStore) remove(idx int) {
	if !s.slots[idx].used {
		panic("book: remove of free slot")
	}
	s.slots[idx] = slot{}
	s.free = append(s.free, idx)
	s.live--
}

// len reports the number of live orders.
func (s *orderStore) len() int {
	return s.live
}
