package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"posledger/internal/service"
	"posledger/internal/store"
)

// statusFor maps the service error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var lockErr *service.LockTimeoutError
	switch {
	case errors.As(err, &lockErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrNoItemsSelected):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrProductDeleted),
		errors.Is(err, store.ErrDuplicateBarcode):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrExcessiveReturn),
		errors.Is(err, service.ErrSaleAlreadyReturned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.WithFields(logrus.Fields{
			"module":     "httpapi",
			"request_id": middleware.GetReqID(r.Context()),
			"status":     status,
		}).WithError(err).Error("request failed")
		msg = http.StatusText(status)
	}
	writeMessage(w, status, msg)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
