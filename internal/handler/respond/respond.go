// Package respond writes JSON responses and maps ledger errors to HTTP status.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// JSON marshals v and writes it with status. A marshal failure becomes a 500.
func JSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("error while encoding response", logger.Error(err))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorResponse{Error: message})
}

// FromError writes the status that matches a ledger error.
func FromError(w http.ResponseWriter, err error) {
	var verr models.ValidationError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, models.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrAccessDenied):
		Error(w, http.StatusForbidden, "access denied")
	case errors.Is(err, models.ErrTenantNotFound):
		Error(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, models.ErrReferenceConflict):
		Error(w, http.StatusConflict, "external reference belongs to another tenant")
	case errors.Is(err, models.ErrSignatureInvalid):
		Error(w, http.StatusUnauthorized, "invalid signature")
	default:
		Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}
