package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-realtime-cart.git/internal/cart"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"net/http"
)

type CartHandler struct {
	Engine *cart.Engine
}

type quantityReq struct {
	Quantity *int `json:"quantity"`
}

type stockResp struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Put("/cart/items/{productID}", h.upsert)
		r.Get("/cart/items/{productID}", h.findOpen)
		r.Get("/cart", h.listOpen)
		r.Get("/reservations/{id}", h.get)
		r.With(RequireAdmin).Patch("/reservations/{id}", h.updateQuantity)
	})
	r.Get("/products/{id}/stock", h.stock)
}

func decodeQuantity(r *http.Request) (int, error) {
	var req quantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		return 0, errors.Wrap(orders.ErrInvalidQuantity, "body must be {\"quantity\": n}")
	}
	return *req.Quantity, nil
}

func (h *CartHandler) upsert(w http.ResponseWriter, r *http.Request) {
	qty, err := decodeQuantity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Engine.Upsert(r.Context(), caller(r).UserID, chi.URLParam(r, "productID"), qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CartHandler) findOpen(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.FindOpen(r.Context(), caller(r).UserID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not in cart"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CartHandler) listOpen(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListOpen(r.Context(), caller(r).UserID, pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// get hides other users' reservations behind a 404 unless the caller is admin.
func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id := caller(r); !id.Admin && res.OwnerID != id.UserID {
		writeError(w, r, orders.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CartHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	qty, err := decodeQuantity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Engine.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CartHandler) stock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.Engine.Available(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{ProductID: id, Available: n})
}
