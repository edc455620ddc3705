package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chatgem/internal/ledger/domain"
)

// RequireAdmin admits callers whose token carries the admin claim or whose
// ledger account is flagged as admin. It must run after AuthMiddleware.
func (h *APIHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := CurrentIdentity(r.Context())
		if !ok {
			writeJSONError(w, r, http.StatusUnauthorized, "authorization required", nil)
			return
		}
		if identity.Admin {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.ledger.Get(r.Context(), identity.UserID)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			writeDomainError(w, r, err)
			return
		}
		if err != nil || !user.IsAdmin {
			h.logger.Warn("admin route %s denied for %s", r.URL.Path, identity.UserID)
			writeJSONError(w, r, http.StatusForbidden, "admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminCreditRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type adminCreditResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// HandleAdminCredit grants tokens to an account outside the purchase flow.
func (h *APIHandler) HandleAdminCredit(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())

	var req adminCreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid request", err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeJSONError(w, r, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	if req.Amount <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	balance, err := h.ledger.Credit(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.logger.Info("admin %s credited %d tokens to %s (reason: %q)", identity.UserID, req.Amount, req.UserID, req.Reason)
	writeJSON(w, http.StatusOK, adminCreditResponse{UserID: req.UserID, Balance: balance})
}

type adminBonusRequest struct {
	OrderID     string `json:"order_id"`
	BonusTokens int64  `json:"bonus_tokens"`
}

// HandleAdminBonus overrides the bonus of a pending order.
func (h *APIHandler) HandleAdminBonus(w http.ResponseWriter, r *http.Request) {
	identity, _ := CurrentIdentity(r.Context())

	var req adminBonusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid request", err)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := validateOrderID(req.OrderID); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid order_id", err)
		return
	}

	tx, err := h.transactions.GetByOrderID(r.Context(), req.OrderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	updated, err := h.transactions.UpdateBonus(r.Context(), tx.ID, req.BonusTokens)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.logger.Info("admin %s set bonus of %s to %d", identity.UserID, req.OrderID, req.BonusTokens)
	writeJSON(w, http.StatusOK, newTransactionResponse(updated))
}

type paymentEventResponse struct {
	ID                int64     `json:"id"`
	TransactionID     string    `json:"transaction_id,omitempty"`
	OrderID           string    `json:"order_id"`
	Source            string    `json:"source"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	ProviderStatus    string    `json:"provider_status,omitempty"`
	Outcome           string    `json:"outcome"`
	SignatureValid    bool      `json:"signature_valid"`
	ArchiveKey        string    `json:"archive_key,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// HandleAdminEvents returns the payment event trail of one order.
func (h *APIHandler) HandleAdminEvents(w http.ResponseWriter, r *http.Request) {
	// Events for malformed order ids are kept too, so only the length is checked.
	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if orderID == "" || len(orderID) > maxPaymentIDLength {
		writeJSONError(w, r, http.StatusBadRequest, "order_id is required", nil)
		return
	}

	events, err := h.settlement.ListEvents(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := make([]paymentEventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, paymentEventResponse{
			ID:                event.ID,
			TransactionID:     event.TransactionID,
			OrderID:           event.OrderID,
			Source:            string(event.Source),
			ProviderPaymentID: event.ProviderPaymentID,
			ProviderStatus:    event.ProviderStatus,
			Outcome:           event.Outcome,
			SignatureValid:    event.SignatureValid,
			ArchiveKey:        event.ArchiveKey,
			CreatedAt:         event.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": resp})
}
