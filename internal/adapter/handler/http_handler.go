package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

const (
	idempotencyHeader = "Idempotency-Key"
	retryAfterSeconds = "2"
)

type HTTPHandler struct {
	orderService *service.OrderService
	logger       *zap.Logger
}

type orderLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type submitOrderRequest struct {
	Lines []orderLineRequest `json:"lines"`
}

type addMenuItemRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Category string `json:"category"`
	Station  string `json:"station"`
	Stock    int    `json:"stock"`
	Active   *bool  `json:"active"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type menuItemResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Category  string `json:"category"`
	Station   string `json:"station"`
	Available int    `json:"available"`
	Active    bool   `json:"active"`
}

type orderResponse struct {
	ID            string                 `json:"id"`
	Status        domain.OrderStatus     `json:"status"`
	Token         string                 `json:"token"`
	Lines         []domain.OrderLine     `json:"lines"`
	Total         string                 `json:"total"`
	StationID     string                 `json:"station_id,omitempty"`
	Shortages     []domain.StockShortage `json:"shortages,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type ticketResponse struct {
	OrderID    string    `json:"order_id"`
	StationID  string    `json:"station_id"`
	Token      string    `json:"token"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type errorResponse struct {
	Error     string                 `json:"error"`
	OrderID   string                 `json:"order_id,omitempty"`
	Shortages []domain.StockShortage `json:"shortages,omitempty"`
}

func NewHTTPHandler(orderService *service.OrderService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{orderService: orderService, logger: logger}
}

// Routes builds the instrumented router.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/menu", h.ListMenu)
		r.Post("/menu", h.AddMenuItem)
		r.Post("/menu/{itemID}/restock", h.Restock)
		r.Post("/menu/{itemID}/active", h.SetItemActive)

		r.Get("/orders", h.ListOrders)
		r.Post("/orders", h.SubmitOrder)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/orders/{orderID}/confirm", h.ConfirmOrder)
		r.Post("/orders/{orderID}/cancel", h.CancelOrder)
		r.Post("/orders/{orderID}/fulfilled", h.MarkFulfilled)

		r.Post("/stations/{stationID}/next", h.StationNext)
		r.Get("/stats", h.Stats)
	})

	return otelhttp.NewHandler(r, "canteen-http")
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.orderService.ListMenu(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]menuItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toMenuItemResponse(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) AddMenuItem(w http.ResponseWriter, r *http.Request) {
	var req addMenuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	cents, err := parsePrice(req.Price)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	item, err := h.orderService.AddMenuItem(r.Context(), domain.MenuItem{
		ID:         req.ID,
		Name:       req.Name,
		PriceCents: cents,
		Category:   req.Category,
		Station:    req.Station,
		Available:  req.Stock,
		Active:     active,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMenuItemResponse(item))
}

func (h *HTTPHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	item, err := h.orderService.Restock(r.Context(), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}

func (h *HTTPHandler) SetItemActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	item, err := h.orderService.SetItemActive(r.Context(), chi.URLParam(r, "itemID"), req.Active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}

func (h *HTTPHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.OrderLine{ItemID: l.ItemID, Quantity: l.Quantity})
	}

	order, err := h.orderService.SubmitOrder(r.Context(), r.Header.Get(idempotencyHeader), lines)
	if err != nil {
		h.writeOrderError(w, r, order, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown status " + string(status)})
		return
	}

	orders, err := h.orderService.ListOrders(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.ConfirmOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(w, r, order, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.CancelOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(w, r, order, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) MarkFulfilled(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.StationMarkFulfilled(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(w, r, order, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// StationNext hands the station its oldest ticket, or 204 when there is none.
func (h *HTTPHandler) StationNext(w http.ResponseWriter, r *http.Request) {
	ticket, ok, err := h.orderService.StationDequeue(r.Context(), chi.URLParam(r, "stationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{
		OrderID:    ticket.OrderID,
		StationID:  ticket.StationID,
		Token:      ticket.Token,
		EnqueuedAt: ticket.EnqueuedAt,
	})
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.orderService.StatusCounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": counts})
}

func (h *HTTPHandler) writeOrderError(w http.ResponseWriter, r *http.Request, order domain.Order, err error) {
	resp := errorResponse{Error: err.Error(), OrderID: order.ID}
	var short *domain.InsufficientStockError
	if errors.As(err, &short) {
		resp.Shortages = short.Shortages
	}
	h.respondError(w, r, err, resp)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.respondError(w, r, err, errorResponse{Error: err.Error()})
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error, resp errorResponse) {
	status := httpStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrItemInactive),
		errors.Is(err, domain.ErrAlreadyReserved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBackpressure):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidItem):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parsePrice(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("price is required")
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.New("price is not a number")
	}
	cents := price.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, errors.New("price has more than two decimals")
	}
	return cents.IntPart(), nil
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func toMenuItemResponse(it domain.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:        it.ID,
		Name:      it.Name,
		Price:     formatCents(it.PriceCents),
		Category:  it.Category,
		Station:   it.StationOrDefault(),
		Available: it.Available,
		Active:    it.Active,
	}
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Status:        o.Status,
		Token:         o.Token,
		Lines:         o.Lines,
		Total:         formatCents(o.TotalCents),
		StationID:     o.StationID,
		Shortages:     o.Shortages,
		FailureReason: o.FailureReason,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
