package http

import (
	"net/http"

	"chatgem/internal/logging"
)

// NewRouter creates the HTTP router with all endpoints.
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	logger := logging.NewComponentLogger("Router")
	apiHandler := NewAPIHandler(deps)

	auth := AuthMiddleware(deps.Identity)
	limit := RateLimitMiddleware(cfg.RateLimit, deps.HTTPMetrics)
	webhookLimit := RateLimitMiddleware(cfg.WebhookRateLimit, deps.HTTPMetrics)

	// user wraps an authenticated route; the limiter runs after auth so it
	// can key on the caller.
	user := func(h http.HandlerFunc) http.Handler {
		return auth(limit(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth(apiHandler.RequireAdmin(h))
	}

	mux := http.NewServeMux()

	// Account
	mux.Handle("POST /api/account", routeHandler("/api/account", user(apiHandler.HandleRegister)))
	mux.Handle("GET /api/account/balance", routeHandler("/api/account/balance", user(apiHandler.HandleBalance)))
	mux.Handle("POST /api/account/daily-free", routeHandler("/api/account/daily-free", user(apiHandler.HandleDailyFree)))

	// Payments
	mux.Handle("GET /api/plans", routeHandler("/api/plans", http.HandlerFunc(apiHandler.HandleListPlans)))
	mux.Handle("POST /api/payments/intents", routeHandler("/api/payments/intents", user(apiHandler.HandleCreateIntent)))
	mux.Handle("POST /api/payments/verify", routeHandler("/api/payments/verify", user(apiHandler.HandleVerify)))
	mux.Handle("GET /api/payments/transactions", routeHandler("/api/payments/transactions", user(apiHandler.HandleListTransactions)))
	mux.Handle("POST /api/payments/webhook", routeHandler("/api/payments/webhook", webhookLimit(http.HandlerFunc(apiHandler.HandleWebhook))))

	// Chat
	mux.Handle("POST /api/chat/authorize", routeHandler("/api/chat/authorize", user(apiHandler.HandleAuthorizeChat)))

	// Admin
	mux.Handle("POST /api/admin/credit", routeHandler("/api/admin/credit", admin(apiHandler.HandleAdminCredit)))
	mux.Handle("POST /api/admin/transactions/bonus", routeHandler("/api/admin/transactions/bonus", admin(apiHandler.HandleAdminBonus)))
	mux.Handle("GET /api/admin/transactions/events", routeHandler("/api/admin/transactions/events", admin(apiHandler.HandleAdminEvents)))

	mux.Handle("GET /health", routeHandler("/health", http.HandlerFunc(apiHandler.HandleHealthCheck)))
	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", routeHandler("/metrics", deps.MetricsHandler))
	}

	// Apply middleware
	var handler http.Handler = mux
	handler = ObservabilityMiddleware(deps.HTTPMetrics, deps.Tracer)(handler)
	handler = RequestTimeoutMiddleware(cfg.RequestTimeout)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = CorrelationMiddleware()(handler)
	handler = CORSMiddleware(cfg.Environment, cfg.AllowedOrigins)(handler)
	handler = ClientIPMiddleware(cfg.TrustedProxies)(handler)

	return handler
}
