package api

import "velocity/pkg/types"

// PlaceOrderRequest is the JSON body for POST /v1/orders.
// Side is "BID" or "ASK". OrderID is caller-generated and must be unique;
// the CLI generates a random one when the user does not supply it.
type PlaceOrderRequest struct {
	UserID   uint64 `json:"user_id"`
	OrderID  uint64 `json:"order_id"`
	Side     string `json:"side"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// Fill is one execution where the request's order was the taker.
type Fill struct {
	MakerOrderID uint64 `json:"maker_order_id"`
	Price        uint64 `json:"price"`
	Quantity     uint64 `json:"quantity"`
}

// PlaceOrderResponse reports what happened to a placed order. Success is
// true when the order traded as taker or rested on the book. Self-trade
// prevention evicts the makers without consuming the incoming quantity, so
// an order whose makers were all evicted rests and reports success=true.
type PlaceOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID uint64 `json:"order_id"`
	Fills   []Fill `json:"fills"`
}

// CancelOrderRequest is the JSON body for DELETE /v1/orders.
type CancelOrderRequest struct {
	UserID  uint64 `json:"user_id"`
	OrderID uint64 `json:"order_id"`
}

// CancelOrderResponse reports whether the cancel removed an order.
// Unknown ids and ownership mismatches both report success=false; they
// are benign races, not errors.
type CancelOrderResponse struct {
	Success bool `json:"success"`
}

// DepthLevel is one aggregated price level.
type DepthLevel struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// DepthResponse is the reply to GET /v1/depth. Asks ascend from the best
// (lowest) price, bids descend from the best (highest).
type DepthResponse struct {
	Asks []DepthLevel `json:"asks"`
	Bids []DepthLevel `json:"bids"`
}

// EventFrame is the wire form of one engine event on the /ws stream.
// Type is "order_placed", "order_cancelled", or "trade_executed"; only
// the fields relevant to the type are populated. A "stream_lagged" frame
// carries Dropped, the number of frames shed for this subscriber since
// its last delivery; consumers that need a gapless view should resync
// from the depth endpoint when they see one.
type EventFrame struct {
	Type         string `json:"type"`
	OrderID      uint64 `json:"order_id,omitempty"`
	UserID       uint64 `json:"user_id,omitempty"`
	Side         string `json:"side,omitempty"`
	Price        uint64 `json:"price,omitempty"`
	Quantity     uint64 `json:"quantity,omitempty"`
	MakerOrderID uint64 `json:"maker_order_id,omitempty"`
	TakerOrderID uint64 `json:"taker_order_id,omitempty"`
	Dropped      uint64 `json:"dropped,omitempty"`
}

// NewEventFrame converts an engine event to its wire form.
func NewEventFrame(event types.EngineEvent) EventFrame {
	switch e := event.(type) {
	case types.OrderPlaced:
		return EventFrame{
			Type:     "order_placed",
			OrderID:  uint64(e.ID),
			UserID:   uint64(e.UserID),
			Side:     e.Side.String(),
			Price:    uint64(e.Price),
			Quantity: uint64(e.Quantity),
		}
	case types.OrderCancelled:
		return EventFrame{
			Type:    "order_cancelled",
			OrderID: uint64(e.ID),
		}
	case types.TradeExecuted:
		return EventFrame{
			Type:         "trade_executed",
			MakerOrderID: uint64(e.MakerID),
			TakerOrderID: uint64(e.TakerID),
			Price:        uint64(e.Price),
			Quantity:     uint64(e.Quantity),
		}
	default:
		return EventFrame{Type: "unknown"}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
