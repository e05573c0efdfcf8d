package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/conscious-checkout/internal/domain/auth"
)

// Admin keys are accepted in either header.
const (
	headerAPIKey       = "X-API-Key"
	headerLegacyAPIKey = "api_key"
)

type adminKey struct{}

// adminFrom returns the API key that authenticated the request, if any.
func adminFrom(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(adminKey{}).(*auth.APIKeyInfo)
	return info, ok
}

func apiKey(r *http.Request) string {
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	return r.Header.Get(headerLegacyAPIKey)
}

// identify authenticates the API key when one is sent. Public routes use
// the result to decide how much to reveal; a bad key on a public route is
// treated as anonymous.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		info, err := h.auth.Authenticate(r.Context(), key)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), adminKey{}, info)
		ctx = zctx.With(ctx, zap.String("api_key", info.Name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects requests that identify did not authenticate.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := adminFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
