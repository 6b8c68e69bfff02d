package api

import (
	"errors"
	"fmt"
	"net/http"

	"ms-buddycart/internal/models"
	"ms-buddycart/internal/payment"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{models.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{models.ErrDeadlinePassed, http.StatusGone, "DEADLINE_PASSED"},
	{models.ErrAlreadyTerminal, http.StatusConflict, "ALREADY_TERMINAL"},
	{models.ErrNotCommitted, http.StatusConflict, "NOT_COMMITTED"},
	{models.ErrConflict, http.StatusConflict, "CONFLICT"},
	{models.ErrBusy, http.StatusLocked, "BUSY"},
	{models.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{models.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{models.ErrCartInactive, http.StatusUnprocessableEntity, "CART_INACTIVE"},
	{payment.ErrPaymentNotVerified, http.StatusPaymentRequired, "PAYMENT_NOT_VERIFIED"},
	{payment.ErrGatewayUnavailable, http.StatusBadGateway, "GATEWAY_UNAVAILABLE"},
	{models.ErrPersistence, http.StatusInternalServerError, "PERSISTENCE"},
}

// statusFor maps a service error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s failed: %v", r.Method, r.URL.Path, err))
		msg = http.StatusText(status)
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s %s rejected (%d): %v", r.Method, r.URL.Path, status, err))
	}
	sendJSONResponse(w, status, errorResponse{Error: msg, Code: code})
}
