package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"chatgem/internal/ledger/adapters"
)

const (
	maxOrderIDLength   = 64
	maxPaymentIDLength = 128
	maxJSONBodyBytes   = 64 << 10
)

var (
	orderIDPattern       = regexp.MustCompile(`^` + adapters.OrderIDPrefix + `[A-Za-z0-9]+$`)
	paymentIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
	correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func validateOrderID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("order_id is required")
	}
	if len(id) > maxOrderIDLength {
		return fmt.Errorf("order_id too long (max %d characters)", maxOrderIDLength)
	}
	if !orderIDPattern.MatchString(id) {
		return errors.New("order_id is malformed")
	}
	return nil
}

func validatePaymentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("payment_id is required")
	}
	if len(id) > maxPaymentIDLength {
		return fmt.Errorf("payment_id too long (max %d characters)", maxPaymentIDLength)
	}
	if !paymentIDPattern.MatchString(id) {
		return errors.New("payment_id contains invalid characters")
	}
	return nil
}

// decodeJSON reads a single JSON object of at most maxJSONBodyBytes and
// rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large (max %d bytes)", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// readRawBody returns the body bytes untouched, for signature checks.
func readRawBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body too large (max %d bytes)", tooLarge.Limit)
		}
		return nil, err
	}
	return data, nil
}
