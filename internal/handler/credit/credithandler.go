package credithandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sheikh-saqib/credit-ledger/internal/handler/middleware"
	"github.com/sheikh-saqib/credit-ledger/internal/handler/respond"
	"github.com/sheikh-saqib/credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/pkg/dto"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

const defaultUnresolvedLimit = 100

type creditService interface {
	GrantCourtesy(ctx context.Context, caller models.Caller, tenantID string, amount decimal.Decimal, description string) (models.Grant, error)
	BalanceFor(ctx context.Context, caller models.Caller, tenantID string) (decimal.Decimal, error)
	EntriesFor(ctx context.Context, caller models.Caller, tenantID string) ([]models.LedgerEntry, error)
}

type unresolvedLister interface {
	ListUnresolved(ctx context.Context, limit int) ([]models.UnresolvedPayment, error)
}

type CreditHandler struct {
	creditService   creditService
	unresolved      unresolvedLister
	courtesyDefault decimal.Decimal
}

func New(svc creditService, unresolved unresolvedLister, courtesyDefault decimal.Decimal) *CreditHandler {
	return &CreditHandler{
		creditService:   svc,
		unresolved:      unresolved,
		courtesyDefault: courtesyDefault,
	}
}

// Courtesy grants an administrator credit. A missing or non-positive amount
// falls back to the configured default.
func (h CreditHandler) Courtesy(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFrom(r.Context())

	var req dto.CourtesyGrant
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.Warn("error while decoding a courtesy grant request", logger.Error(err))
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount := h.courtesyDefault
	if req.Amount != nil && req.Amount.IsPositive() {
		amount = *req.Amount
	}

	grant, err := h.creditService.GrantCourtesy(r.Context(), caller, req.TenantID, amount, req.Description)
	if err != nil {
		if errors.Is(err, models.ErrAccessDenied) || errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrTenantNotFound) {
			logger.Log.Warn("courtesy grant rejected", logger.String("tenant_id", req.TenantID), logger.Error(err))
		} else {
			logger.Log.Error("error while granting courtesy credit", logger.String("tenant_id", req.TenantID), logger.Error(err))
		}
		respond.FromError(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, dto.GrantResult{
		Status:     "granted",
		EntryID:    grant.Entry.ID,
		Amount:     grant.Entry.Amount.StringFixed(ledger.Scale),
		NewBalance: grant.Balance.StringFixed(ledger.Scale),
	})
}

func (h CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	balance, err := h.creditService.BalanceFor(r.Context(), middleware.CallerFrom(r.Context()), tenantID)
	if err != nil {
		if errors.Is(err, models.ErrAccessDenied) {
			logger.Log.Warn("balance access denied", logger.String("tenant_id", tenantID))
		} else {
			logger.Log.Error("error while fetching balance", logger.String("tenant_id", tenantID), logger.Error(err))
		}
		respond.FromError(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, dto.Balance{
		TenantID: tenantID,
		Balance:  balance.StringFixed(ledger.Scale),
	})
}

func (h CreditHandler) Entries(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	entries, err := h.creditService.EntriesFor(r.Context(), middleware.CallerFrom(r.Context()), tenantID)
	if err != nil {
		if errors.Is(err, models.ErrAccessDenied) {
			logger.Log.Warn("ledger access denied", logger.String("tenant_id", tenantID))
		} else {
			logger.Log.Error("error while fetching ledger entries", logger.String("tenant_id", tenantID), logger.Error(err))
		}
		respond.FromError(w, err)
		return
	}

	dtos := make([]dto.LedgerEntry, len(entries))
	for i, e := range entries {
		dtos[i] = dto.LedgerEntry{
			ID:                e.ID,
			Source:            string(e.Source),
			Amount:            e.Amount.StringFixed(ledger.Scale),
			Description:       e.Description,
			ExternalReference: e.ExternalReference,
			CreatedAt:         e.CreatedAt.Format(time.RFC3339),
		}
	}

	respond.JSON(w, http.StatusOK, dtos)
}

// Unresolved lists payment events that produced no credit, newest first.
func (h CreditHandler) Unresolved(w http.ResponseWriter, r *http.Request) {
	if err := ledger.AuthorizeAdmin(middleware.CallerFrom(r.Context())); err != nil {
		logger.Log.Warn("unresolved payments access denied")
		respond.FromError(w, err)
		return
	}

	limit := defaultUnresolvedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			logger.Log.Warn("invalid limit", logger.String("limit", raw))
			respond.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := h.unresolved.ListUnresolved(r.Context(), limit)
	if err != nil {
		logger.Log.Error("error while listing unresolved payments", logger.Error(err))
		respond.FromError(w, err)
		return
	}

	dtos := make([]dto.UnresolvedPayment, len(list))
	for i, u := range list {
		dtos[i] = dto.UnresolvedPayment{
			ID:            u.ID,
			EventID:       u.EventID,
			SessionID:     u.SessionID,
			TransactionID: u.TransactionID,
			TenantRef:     u.TenantRef,
			Amount:        u.Amount.StringFixed(ledger.Scale),
			Reason:        string(u.Reason),
			Detail:        u.Detail,
			CreatedAt:     u.CreatedAt.Format(time.RFC3339),
		}
	}

	respond.JSON(w, http.StatusOK, dtos)
}
