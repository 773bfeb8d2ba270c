package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sgal-dev/sgal/internal/platform/httpx"
	"github.com/sgal-dev/sgal/internal/shared"
)

// Middleware wires actor resolution and role guards for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate resolves the bearer token and stores the actor in context.
// Engine handlers read the actor from context and pass it explicitly into
// every service call; nothing downstream resolves identity again.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}
		actor, err := m.Service.Authenticate(r.Context(), token)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("authenticate", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRole ensures the actor holds one of the given roles.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok || !actor.Is(roles...) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "role not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
