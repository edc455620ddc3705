package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatgem/internal/ledger/app/settlement"
	"chatgem/internal/ledger/domain"
)

// WebhookSignatureHeader carries the hex HMAC of the raw webhook body.
const WebhookSignatureHeader = "X-Webhook-Signature"

const (
	defaultTransactionListLimit = 20
	maxTransactionListLimit     = 100
)

type createIntentRequest struct {
	Plan string `json:"plan"`
}

type intentResponse struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Plan          string `json:"plan"`
	AmountMinor   int64  `json:"amount_minor"`
	BaseTokens    int64  `json:"base_tokens"`
	BonusTokens   int64  `json:"bonus_tokens"`
	TotalTokens   int64  `json:"total_tokens"`
}

// HandleCreateIntent opens a pending purchase for a catalog plan. The price
// and token counts come from the catalog, never from the client.
func (h *APIHandler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())

	var req createIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid request", err)
		return
	}
	plan, err := h.plans.Lookup(strings.TrimSpace(req.Plan))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	intent, err := h.settlement.CreateIntent(r.Context(), identity.UserID, plan.AmountMinor, plan.BaseTokens, plan.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intentResponse{
		OrderID:       intent.OrderID,
		TransactionID: intent.TransactionID,
		Plan:          intent.PlanName,
		AmountMinor:   intent.AmountMinor,
		BaseTokens:    intent.BaseTokens,
		BonusTokens:   intent.BonusTokens,
		TotalTokens:   intent.TotalTokens,
	})
}

type verifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

type reconcileResponse struct {
	Success             bool   `json:"success"`
	Status              string `json:"status"`
	TotalTokensCredited int64  `json:"total_tokens_credited"`
	NewBalance          int64  `json:"new_balance"`
	AlreadyProcessed    bool   `json:"already_processed"`
	Simulated           bool   `json:"simulated,omitempty"`
}

func newReconcileResponse(result settlement.ReconcileResult) reconcileResponse {
	return reconcileResponse{
		Success:             result.Success,
		Status:              string(result.Status),
		TotalTokensCredited: result.TotalTokensCredited,
		NewBalance:          result.NewBalance,
		AlreadyProcessed:    result.AlreadyProcessed,
		Simulated:           result.Simulated,
	}
}

// HandleVerify asks the provider about the caller's order and settles it.
func (h *APIHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())

	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid request", err)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if err := validateOrderID(req.OrderID); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid order_id", err)
		return
	}
	if err := validatePaymentID(req.PaymentID); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid payment_id", err)
		return
	}

	result, err := h.settlement.Verify(r.Context(), identity.UserID, req.OrderID, req.PaymentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReconcileResponse(result))
}

// HandleWebhook accepts provider notifications. The body is passed through
// byte for byte so the signature can be checked against it.
func (h *APIHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readRawBody(w, r)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid request", err)
		return
	}
	signature := strings.TrimSpace(r.Header.Get(WebhookSignatureHeader))

	result, err := h.settlement.HandleWebhook(r.Context(), payload, signature)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReconcileResponse(result))
}

type transactionResponse struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id"`
	Amount          int64     `json:"amount"`
	TokensPurchased int64     `json:"tokens_purchased"`
	BonusTokens     int64     `json:"bonus_tokens"`
	TotalTokens     int64     `json:"total_tokens"`
	Plan            string    `json:"plan,omitempty"`
	Status          string    `json:"status"`
	PaymentID       string    `json:"payment_id,omitempty"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newTransactionResponse(tx domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:              tx.ID,
		OrderID:         tx.OrderID,
		Amount:          tx.Amount,
		TokensPurchased: tx.TokensPurchased,
		BonusTokens:     tx.BonusTokens,
		TotalTokens:     tx.TotalTokens,
		Plan:            tx.PlanName,
		Status:          string(tx.Status),
		PaymentID:       tx.PaymentID,
		PaymentMethod:   tx.PaymentMethod,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
}

// HandleListTransactions returns the caller's purchases, newest first.
func (h *APIHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())

	limit := defaultTransactionListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, r, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(parsed, maxTransactionListLimit)
	}

	txs, err := h.transactions.ListByUser(r.Context(), identity.UserID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, newTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": resp})
}
