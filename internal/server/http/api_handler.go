package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"chatgem/internal/ledger/app/gate"
	"chatgem/internal/ledger/app/ledger"
	"chatgem/internal/ledger/app/settlement"
	"chatgem/internal/ledger/app/transactions"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/logging"
)

// APIHandler serves the account, payment, chat and admin endpoints.
type APIHandler struct {
	ledger       *ledger.Service
	transactions *transactions.Service
	settlement   *settlement.Coordinator
	gate         *gate.Gate
	plans        *domain.PlanCatalog
	healthCheck  func(ctx context.Context) error
	logger       logging.Logger
}

// NewAPIHandler builds the handler set from the router dependencies.
func NewAPIHandler(deps RouterDeps) *APIHandler {
	return &APIHandler{
		ledger:       deps.Ledger,
		transactions: deps.Transactions,
		settlement:   deps.Settlement,
		gate:         deps.Gate,
		plans:        deps.Plans,
		healthCheck:  deps.HealthCheck,
		logger:       logging.NewComponentLogger("APIHandler"),
	}
}

type accountResponse struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Tokens        int64     `json:"tokens"`
	LastFreeReset string    `json:"last_free_reset,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Created       bool      `json:"created,omitempty"`
}

func newAccountResponse(user domain.User) accountResponse {
	return accountResponse{
		UserID:        user.ID,
		Email:         user.Email,
		Tokens:        user.Tokens,
		LastFreeReset: user.LastFreeReset,
		CreatedAt:     user.CreatedAt,
	}
}

type registerRequest struct {
	Email string `json:"email"`
}

// HandleRegister creates the caller's ledger account with the starting
// grant. Calling it again returns the existing account.
func (h *APIHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())

	email := identity.Email
	if r.ContentLength != 0 {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "invalid request", err)
			return
		}
		if email == "" {
			email = req.Email
		}
	}
	if strings.TrimSpace(email) == "" {
		writeJSONError(w, r, http.StatusBadRequest, "email is required", nil)
		return
	}

	user, created, err := h.ledger.Register(r.Context(), identity.UserID, email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := newAccountResponse(user)
	resp.Created = created
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// HandleBalance returns the caller's balance.
func (h *APIHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())
	user, err := h.ledger.Get(r.Context(), identity.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(user))
}

type dailyFreeResponse struct {
	Tokens  int64 `json:"tokens"`
	Applied bool  `json:"applied"`
}

// HandleDailyFree tops the caller up to the daily free floor.
func (h *APIHandler) HandleDailyFree(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())
	user, applied, err := h.ledger.ResetDailyFree(r.Context(), identity.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dailyFreeResponse{Tokens: user.Tokens, Applied: applied})
}

type planResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	AmountMinor int64  `json:"amount_minor"`
	BaseTokens  int64  `json:"base_tokens"`
	BonusTokens int64  `json:"bonus_tokens"`
	TotalTokens int64  `json:"total_tokens"`
}

// HandleListPlans lists purchasable bundles with the bonus each one earns.
func (h *APIHandler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	rule := h.settlement.BonusRule()
	plans := h.plans.List()
	resp := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		bonus, err := rule.Bonus(plan.AmountMinor, plan.BaseTokens)
		if err != nil {
			h.logger.Warn("plan %s: bonus preview failed: %v", plan.Name, err)
			bonus = 0
		}
		resp = append(resp, planResponse{
			Name:        plan.Name,
			DisplayName: plan.DisplayName,
			AmountMinor: plan.AmountMinor,
			BaseTokens:  plan.BaseTokens,
			BonusTokens: bonus,
			TotalTokens: plan.BaseTokens + bonus,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": resp})
}

type authorizeResponse struct {
	Granted bool   `json:"granted"`
	Balance int64  `json:"balance"`
	Error   string `json:"error,omitempty"`
}

// HandleAuthorizeChat charges one token for a chat message. A denied
// message answers 402 with the current balance.
func (h *APIHandler) HandleAuthorizeChat(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())
	auth, err := h.gate.Authorize(r.Context(), identity.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !auth.Granted {
		writeJSON(w, http.StatusPaymentRequired, authorizeResponse{
			Granted: false,
			Balance: auth.Balance,
			Error:   "insufficient token balance",
		})
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{Granted: true, Balance: auth.Balance})
}

// HandleHealthCheck reports liveness and, when configured, store reachability.
func (h *APIHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status": "ok",
		"mode":   string(h.settlement.Mode()),
	}
	if h.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.healthCheck(ctx); err != nil {
			h.logger.Warn("health check failed: %v", err)
			resp["status"] = "degraded"
			resp["store"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["store"] = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}
