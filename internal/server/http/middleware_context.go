package http

import (
	"context"
	"net/http"

	"chatgem/internal/ledger/ports"
)

type contextKey string

const (
	identityContextKey       contextKey = "identity"
	canonicalRouteContextKey contextKey = "canonicalRoute"
)

func annotateRequestRoute(r *http.Request, route string) {
	if r == nil || route == "" {
		return
	}
	ctx := context.WithValue(r.Context(), canonicalRouteContextKey, route)
	*r = *r.WithContext(ctx)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if route, ok := ctx.Value(canonicalRouteContextKey).(string); ok {
		return route
	}
	return ""
}

func routeHandler(route string, handler http.Handler) http.Handler {
	if route == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		annotateRequestRoute(r, route)
		handler.ServeHTTP(w, r)
	})
}

func withIdentity(ctx context.Context, identity ports.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// CurrentIdentity extracts the authenticated caller from request context.
func CurrentIdentity(ctx context.Context) (ports.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(ports.Identity)
	return identity, ok && identity.UserID != ""
}
