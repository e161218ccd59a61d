// Package api exposes the coordination core to the terminals over HTTP.
// Handlers stay thin: decode, call the service, map the error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"comanda/internal/cashregister"
	"comanda/internal/common/httpx"
	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/inventory"
	"comanda/internal/orderflow"
	"comanda/internal/payment"
	"comanda/internal/store"
)

type Deps struct {
	Store     store.Store
	Orders    *orderflow.Service
	Inventory *inventory.Ledger
	Register  *cashregister.Ledger
	Payments  *payment.Allocator
	Log       *logger.Logger
	Ready     func(context.Context) error // backing-service checks for /health; nil skips them
}

func Run(ctx context.Context, port int, d Deps) error {
	srv := httpx.New(":"+strconv.Itoa(port), newMux(d))
	return srv.Run(ctx)
}

func newMux(d Deps) *http.ServeMux {
	h := &handler{d: d}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /orders", h.createOrder)
	mux.HandleFunc("GET /orders", h.listOrders)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("DELETE /orders/{id}", h.cancelOrder)
	mux.HandleFunc("PATCH /orders/{id}/items/{item}/status", h.setItemStatus)
	mux.HandleFunc("POST /orders/{id}/pay", h.payOrder)

	mux.HandleFunc("POST /registers", h.openRegister)
	mux.HandleFunc("GET /registers", h.listRegisters)
	mux.HandleFunc("GET /registers/current", h.currentRegister)
	mux.HandleFunc("POST /registers/transactions", h.appendTransaction)
	mux.HandleFunc("POST /registers/close", h.closeRegister)
	mux.HandleFunc("GET /registers/{id}/summary", h.registerSummary)
	mux.HandleFunc("POST /registers/reconcile", h.reconcile)

	mux.HandleFunc("POST /inventory/{id}/adjust", h.adjustStock)
	mux.HandleFunc("GET /inventory/low-stock", h.lowStock)
	return mux
}

type handler struct{ d Deps }

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.d.Ready != nil {
		if err := h.d.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto status codes:
// validation 400, missing 404, precondition conflicts 409.
func writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	var se *domain.ShortageError
	switch {
	case errors.As(err, &ve), errors.As(err, &se):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrOrderLocked),
		errors.Is(err, domain.ErrFrozenDate),
		errors.Is(err, domain.ErrNoOpenRegister),
		errors.Is(err, domain.ErrRegisterAlreadyOpen),
		errors.Is(err, domain.ErrRegisterClosed),
		errors.Is(err, domain.ErrAlreadySettled):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return false
	}
	return true
}

type createOrderRequest struct {
	Actor    domain.Actor    `json:"actor"`
	Customer domain.Customer `json:"customer"`
	Tables   []string        `json:"tables"`
	Items    []struct {
		DishID         string `json:"dish_id"`
		Quantity       int    `json:"quantity"`
		SelectedOption string `json:"selected_option"`
	} `json:"items"`
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	cr := orderflow.CreateRequest{Customer: req.Customer, Tables: req.Tables}
	for _, it := range req.Items {
		cr.Items = append(cr.Items, orderflow.CreateItem{
			DishID: it.DishID, Quantity: it.Quantity, SelectedOption: it.SelectedOption,
		})
	}
	order, err := h.d.Orders.Create(r.Context(), cr, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.OrderFilter{Unsynced: q.Get("unsynced") == "true"}
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			writeError(w, domain.Invalid("status", err.Error()))
			return
		}
		f.Status = st
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, domain.Invalid("since", "must be RFC3339"))
			return
		}
		f.Since = t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, domain.Invalid("until", "must be RFC3339"))
			return
		}
		f.Until = t
	}
	orders, err := h.d.Store.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.d.Store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor domain.Actor `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.Orders.Cancel(r.Context(), r.PathValue("id"), req.Actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setItemStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string       `json:"status"`
		Actor  domain.Actor `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, domain.Invalid("status", err.Error()))
		return
	}
	if err := h.d.Orders.SetItemStatus(r.Context(), r.PathValue("id"), r.PathValue("item"), status, req.Actor); err != nil {
		writeError(w, err)
		return
	}
	order, err := h.d.Store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type payRequest struct {
	Mode  payment.Mode `json:"mode"`
	Actor domain.Actor `json:"actor"`
	Parts []struct {
		Name            string       `json:"name"`
		Items           []string     `json:"items"` // singleton ids, item mode
		Method          string       `json:"method"`
		AmountReceived  domain.Money `json:"amount_received"`
		BankName        string       `json:"bank_name"`
		TransactionCode string       `json:"transaction_code"`
	} `json:"parts"`
}

// payOrder runs a whole settlement in one request: the terminal sends
// every part with its method, the server assigns, settles and completes.
func (h *handler) payOrder(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if !decode(w, r, &req) {
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = payment.ModeComplete
	}

	names := make([]string, len(req.Parts))
	for i, p := range req.Parts {
		names[i] = p.Name
	}
	if mode == payment.ModeComplete {
		if len(req.Parts) != 1 {
			writeError(w, domain.Invalid("parts", "complete payment takes exactly one part"))
			return
		}
		names = nil
		req.Parts[0].Name = "complete"
	}

	session, err := h.d.Payments.NewSession(r.Context(), r.PathValue("id"), mode, names)
	if err != nil {
		writeError(w, err)
		return
	}
	// Parts that already reached the register on an earlier attempt come
	// back settled; skipping them makes a retried request safe.
	settled := make(map[string]bool)
	for _, p := range session.Parts() {
		if p.Settled {
			settled[p.Name] = true
		}
	}
	if mode == payment.ModeItems {
		for _, p := range req.Parts {
			if settled[p.Name] {
				continue
			}
			for _, sg := range p.Items {
				if err := session.Assign(p.Name, sg); err != nil {
					writeError(w, err)
					return
				}
			}
		}
	}
	for _, p := range req.Parts {
		if settled[p.Name] {
			continue
		}
		_, err := session.SettlePart(r.Context(), p.Name, p.Method, payment.MethodDetails{
			AmountReceived:  p.AmountReceived,
			BankName:        p.BankName,
			TransactionCode: p.TransactionCode,
		}, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	order, err := session.Complete(r.Context(), req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type registerRequest struct {
	Amount        domain.Money          `json:"amount"`
	Denominations []domain.Denomination `json:"denominations"`
	Notes         string                `json:"notes"`
	Actor         domain.Actor          `json:"actor"`
}

func (h *handler) openRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	reg, err := h.d.Register.Open(r.Context(), req.Amount, req.Denominations, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (h *handler) closeRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	reg, err := h.d.Register.Close(r.Context(), req.Amount, req.Denominations, req.Notes, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *handler) currentRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := h.d.Register.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *handler) listRegisters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	regs, err := h.d.Register.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

func (h *handler) appendTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type          domain.TransactionType `json:"type"`
		Amount        domain.Money           `json:"amount"`
		Description   string                 `json:"description"`
		OrderID       string                 `json:"order_id"`
		PaymentMethod string                 `json:"payment_method"`
		Actor         domain.Actor           `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.d.Register.Append(r.Context(), cashregister.AppendRequest{
		Type: req.Type, Amount: req.Amount, Description: req.Description,
		OrderID: req.OrderID, PaymentMethod: req.PaymentMethod,
	}, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (h *handler) registerSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.d.Register.Summarize(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor domain.Actor `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	n, err := h.d.Register.ReconcileOrders(r.Context(), req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": n})
}

func (h *handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta  float64      `json:"delta"`
		Reason string       `json:"reason"`
		Actor  domain.Actor `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	mv, err := h.d.Inventory.AdjustStock(r.Context(), r.PathValue("id"), req.Delta, req.Reason, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mv)
}

func (h *handler) lowStock(w http.ResponseWriter, r *http.Request) {
	entries, err := h.d.Inventory.LowStock(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []inventory.LowStockEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
