package ledger

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/httpx"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/middleware"
	"github.com/inaiurai/promptq/internal/models"
)

type BalanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

// AdjustRequest carries a signed amount. AccountID is honoured for admins only.
type AdjustRequest struct {
	AccountID *uuid.UUID      `json:"account_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

type Handler struct {
	svc Service
	log logging.Logger
}

func NewHandler(svc Service, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.svc.GetBalance(r.Context(), p.AccountID)
	if err != nil {
		h.writeLedgerError(w, err, p.AccountID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, BalanceResponse{AccountID: p.AccountID.String(), Balance: balance})
}

func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req AdjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	target := p.AccountID
	if req.AccountID != nil && *req.AccountID != p.AccountID {
		if !p.IsAdmin {
			httpx.WriteError(w, http.StatusForbidden, "cannot adjust another account")
			return
		}
		target = *req.AccountID
	}

	t, err := h.svc.Adjust(r.Context(), target, req.Amount)
	if err != nil {
		h.writeLedgerError(w, err, target)
		return
	}
	h.log.WithFields(logging.Fields{
		"account_id": target,
		"actor_id":   p.AccountID,
		"amount":     req.Amount.String(),
	}).Info("balance adjusted")
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.svc.ListTransactions(r.Context(), p.AccountID)
	if err != nil {
		h.writeLedgerError(w, err, p.AccountID)
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error, accountID uuid.UUID) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		httpx.WriteError(w, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, ErrInvalidAmount):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "amount must be non-zero with at most 4 decimal places")
	default:
		h.log.WithError(err).WithField("account_id", accountID).Error("ledger request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
