package http

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"chatgem/internal/ledger/app/gate"
	"chatgem/internal/ledger/app/ledger"
	"chatgem/internal/ledger/app/settlement"
	"chatgem/internal/ledger/app/transactions"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/observability"
)

// RouterDeps holds all service dependencies needed to construct the HTTP router.
type RouterDeps struct {
	Ledger       *ledger.Service
	Transactions *transactions.Service
	Settlement   *settlement.Coordinator
	Gate         *gate.Gate
	Plans        *domain.PlanCatalog
	Identity     ports.IdentityVerifier
	// HealthCheck probes the backing store; nil reports liveness only.
	HealthCheck func(ctx context.Context) error
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	HTTPMetrics    *observability.HTTPMetrics
	Tracer         *observability.TracerProvider
}

// RouterConfig holds configuration values for the HTTP router.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	// WebhookRateLimit applies to the unauthenticated webhook route, keyed by IP.
	WebhookRateLimit RateLimitConfig
	RequestTimeout   time.Duration
	// TrustedProxies may set X-Forwarded-For; other peers are keyed by RemoteAddr.
	TrustedProxies []netip.Prefix
}
