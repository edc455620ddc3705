package http

import (
	"encoding/json"
	"errors"
	"net/http"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/logging"
)

var responseLogger = logging.NewComponentLogger("HTTP")

type apiErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	logger := logging.FromContext(r.Context(), responseLogger)
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP %d %s %s - %s: %v", status, r.Method, r.URL.Path, message, err)
	} else if err != nil {
		logger.Warn("HTTP %d %s %s - %s: %v", status, r.Method, r.URL.Path, message, err)
	}

	resp := apiErrorResponse{
		Error:         message,
		CorrelationID: logging.CorrelationIDFromContext(r.Context()),
	}
	if err != nil && status < http.StatusInternalServerError {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		responseLogger.Error("Failed to encode JSON response: %v", err)
	}
}

// writeDomainError maps ledger and settlement errors onto HTTP statuses.
// Storage and unexpected faults get a generic message; the correlation id in
// the body ties the response to the server log line.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		writeJSONError(w, r, status, message, err)
		return
	}
	writeJSONError(w, r, status, message, nil)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient token balance"
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, domain.ErrUserExists):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, domain.ErrDuplicateOrder):
		return http.StatusConflict, "could not allocate an order id, please retry"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "order can no longer be settled"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, domain.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown plan"
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid payment payload"
	case errors.Is(err, domain.ErrBalanceLimit):
		return http.StatusUnprocessableEntity, "balance limit exceeded"
	case errors.Is(err, domain.ErrPaymentUnverified):
		return http.StatusUnprocessableEntity, "payment could not be verified"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "payment provider unavailable, please retry"
	case domain.IsStorageFault(err), chaterrors.IsTransient(err):
		return http.StatusServiceUnavailable, "temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
