package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"velocity/internal/config"
	"velocity/internal/processor"
	"velocity/pkg/types"
)

const (
	defaultDepthLimit = 10
	maxDepthLimit     = 1000
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	proc   *processor.Processor
	cfg    config.ServerConfig
	hub    *Hub
	limits *RateLimiter
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(proc *processor.Processor, cfg config.ServerConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		proc:   proc,
		cfg:    cfg,
		hub:    hub,
		limits: NewRateLimiter(cfg.RateLimit),
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admit paces the request through its category's rate limit. A caller
// that gives up waiting gets a 503 and the category's throttle counter
// is surfaced in the log.
func (h *Handlers) admit(w http.ResponseWriter, r *http.Request, category Category) bool {
	if err := h.limits.Wait(r.Context(), category); err != nil {
		_, throttled := h.limits.Stats(category)
		h.logger.Warn("request rate limited", "category", string(category), "throttled_total", throttled)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rate limited"})
		return false
	}
	return true
}

// HandleOrders dispatches POST (place) and DELETE (cancel) on /v1/orders.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePlace(w, r)
	case http.MethodDelete:
		h.handleCancel(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

// handlePlace validates a place request, submits it to the engine, and
// classifies the reply: fills are trades where this order was the taker;
// success means any fill as taker or an OrderPlaced for this id.
func (h *Handlers) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	side, err := types.ParseSide(req.Side)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "side must be BID or ASK"})
		return
	}
	if req.OrderID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order_id is required"})
		return
	}
	if req.Price == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "price must be > 0"})
		return
	}
	if req.Quantity == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "quantity must be > 0"})
		return
	}

	if !h.admit(w, r, CategoryOrder) {
		return
	}

	reply := make(chan []types.EngineEvent, 1)
	cmd := processor.PlaceOrder{
		UserID:   types.UserID(req.UserID),
		OrderID:  types.OrderID(req.OrderID),
		Side:     side,
		Price:    types.Price(req.Price),
		Quantity: types.Quantity(req.Quantity),
		Reply:    reply,
	}
	if err := h.proc.Submit(r.Context(), cmd); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "engine unavailable"})
		return
	}

	select {
	case events := <-reply:
		resp := classifyPlace(types.OrderID(req.OrderID), events)
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		// The command still commits; the caller must treat the outcome
		// as unknown. The WAL owns the authoritative record.
		h.logger.Warn("client gave up waiting for place reply", "order_id", req.OrderID)
	}
}

func classifyPlace(orderID types.OrderID, events []types.EngineEvent) PlaceOrderResponse {
	resp := PlaceOrderResponse{
		OrderID: uint64(orderID),
		Fills:   []Fill{},
	}
	for _, event := range events {
		switch e := event.(type) {
		case types.OrderPlaced:
			if e.ID == orderID {
				resp.Success = true
			}
		case types.TradeExecuted:
			if e.TakerID == orderID {
				resp.Fills = append(resp.Fills, Fill{
					MakerOrderID: uint64(e.MakerID),
					Price:        uint64(e.Price),
					Quantity:     uint64(e.Quantity),
				})
				resp.Success = true
			}
		}
	}
	if resp.Success {
		resp.Message = "order processed"
	} else {
		resp.Message = "order rejected"
	}
	return resp
}

// handleCancel submits a cancel and reports success iff the engine
// emitted an OrderCancelled for the requested id.
func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.OrderID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order_id is required"})
		return
	}

	if !h.admit(w, r, CategoryCancel) {
		return
	}

	reply := make(chan []types.EngineEvent, 1)
	cmd := processor.CancelOrder{
		UserID:  types.UserID(req.UserID),
		OrderID: types.OrderID(req.OrderID),
		Reply:   reply,
	}
	if err := h.proc.Submit(r.Context(), cmd); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "engine unavailable"})
		return
	}

	select {
	case events := <-reply:
		success := false
		for _, event := range events {
			if cancelled, ok := event.(types.OrderCancelled); ok && cancelled.ID == types.OrderID(req.OrderID) {
				success = true
			}
		}
		writeJSON(w, http.StatusOK, CancelOrderResponse{Success: success})
	case <-r.Context().Done():
		h.logger.Warn("client gave up waiting for cancel reply", "order_id", req.OrderID)
	}
}

// HandleDepth returns up to ?limit= top levels per side.
func (h *Handlers) HandleDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	limit := defaultDepthLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxDepthLimit {
		limit = maxDepthLimit
	}

	if !h.admit(w, r, CategoryDepth) {
		return
	}

	reply := make(chan processor.Depth, 1)
	if err := h.proc.Submit(r.Context(), processor.GetDepth{Limit: limit, Reply: reply}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "engine unavailable"})
		return
	}

	select {
	case depth := <-reply:
		resp := DepthResponse{
			Asks: make([]DepthLevel, len(depth.Asks)),
			Bids: make([]DepthLevel, len(depth.Bids)),
		}
		for i, level := range depth.Asks {
			resp.Asks[i] = DepthLevel{Price: uint64(level.Price), Quantity: uint64(level.Quantity)}
		}
		for i, level := range depth.Bids {
			resp.Bids[i] = DepthLevel{Price: uint64(level.Price), Quantity: uint64(level.Quantity)}
		}
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
	}
}

// HandleWebSocket upgrades the connection and attaches it to the
// market-data hub.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	NewClient(h.hub, conn)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func isOriginAllowed(origin string, cfg config.ServerConfig, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
