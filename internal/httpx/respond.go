package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

type errorBody struct {
	ErrorMessage string `json:"error_message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors to status codes. Anything outside the taxonomy is a 500
// whose cause is logged but never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, code, errorBody{ErrorMessage: "internal server error"})
		return
	}
	writeJSON(w, code, errorBody{ErrorMessage: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrStatusConflict), errors.Is(err, orders.ErrCartChanged):
		return http.StatusConflict
	case orders.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
