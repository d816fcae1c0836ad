package httpx

import (
	"context"
	"github.com/ariefcatur/go-realtime-cart.git/internal/cart"
	"github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"
	"net/http"
	"time"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "ADMIN"
)

type identityKey struct{}

type identity struct {
	UserID string
	Admin  bool
}

// RequestLogger puts a request-scoped zerolog logger in the context and tags the
// context with the request id, which becomes the trace id of emitted events.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		logger := zlog.With().Str("request_id", reqID).Logger()
		ctx := cart.WithTraceID(logger.WithContext(r.Context()), reqID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// RequireUser rejects requests without a caller id.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{UserID: r.Header.Get(HeaderUserID), Admin: r.Header.Get(HeaderUserRole) == RoleAdmin}
		if id.UserID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// RequireAdmin must run after RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).Admin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) identity {
	id, _ := r.Context().Value(identityKey{}).(identity)
	return id
}
