package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps core errors onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidQuantity), errors.Is(err, orders.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// pageOf reads ?skip=&take=. Bad or negative values are ignored.
func pageOf(r *http.Request) store.Page {
	var p store.Page
	if n, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && n > 0 {
		p.Skip = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("take")); err == nil && n > 0 {
		p.Take = n
	}
	return p
}

type orderView struct {
	orders.Order
	TotalCents int `json:"total_cents"`
}

func viewOf(o orders.Order) orderView {
	return orderView{Order: o, TotalCents: o.TotalCents()}
}
