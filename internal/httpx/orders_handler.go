package httpx

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-realtime-cart.git/internal/cart"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"net/http"
)

type OrdersHandler struct {
	Committer *cart.Committer
	Status    *redisx.StatusCache // optional
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/orders", h.commit)
		r.Get("/orders", h.list)
		r.Get("/orders/{id}", h.get)
		r.Get("/orders/{id}/status", h.status)
		r.With(RequireAdmin).Patch("/orders/{id}/status", h.updateStatus)
		r.With(RequireAdmin).Delete("/orders/{id}", h.delete)
	})
}

func (h *OrdersHandler) commit(w http.ResponseWriter, r *http.Request) {
	o, err := h.Committer.CommitCart(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cache(r.Context(), o)
	writeJSON(w, http.StatusCreated, viewOf(o))
}

// list shows the caller's orders; an admin may pass ?owner= to see anyone's,
// or leave it empty for all.
func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	owner := id.UserID
	if id.Admin {
		owner = r.URL.Query().Get("owner")
	}
	list, err := h.Committer.ListOrders(r.Context(), owner, pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, viewOf(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Committer.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id := caller(r); !id.Admin && o.OwnerID != id.UserID {
		writeError(w, r, orders.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

// status serves the cached status view, loading from the store on a miss.
func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	load := func(ctx context.Context) (redisx.OrderStatus, error) {
		o, err := h.Committer.GetOrder(ctx, orderID)
		if err != nil {
			return redisx.OrderStatus{}, err
		}
		return statusView(o), nil
	}

	var (
		st  redisx.OrderStatus
		err error
	)
	if h.Status != nil {
		st, err = h.Status.Get(r.Context(), orderID, load)
	} else {
		st, err = load(r.Context())
	}
	if err == nil {
		if id := caller(r); !id.Admin && st.OwnerID != id.UserID {
			err = orders.ErrNotFound
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	o, err := h.Committer.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cache(r.Context(), o)
	writeJSON(w, http.StatusOK, viewOf(o))
}

func (h *OrdersHandler) delete(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if err := h.Committer.DeleteOrder(r.Context(), orderID); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Status != nil {
		if err := h.Status.Invalidate(r.Context(), orderID); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("order_id", orderID).Msg("status cache invalidate failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// cache writes through so the status view is fresh before the projector catches up.
func (h *OrdersHandler) cache(ctx context.Context, o orders.Order) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Put(ctx, statusView(o)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Msg("status cache write failed")
	}
}

func statusView(o orders.Order) redisx.OrderStatus {
	return redisx.OrderStatus{OrderID: o.ID, OwnerID: o.OwnerID, Status: string(o.Status), UpdatedAt: o.UpdatedAt}
}
