package jobs

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/inaiurai/promptq/internal/httpx"
	"github.com/inaiurai/promptq/internal/ledger"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/middleware"
	"github.com/inaiurai/promptq/internal/queue"
)

const maxRequestBytes = 1 << 20

type SubmitRequest struct {
	Prompt string `json:"prompt"`
}

type SubmitResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

type Handler struct {
	admission *Admission
	reader    *Reader
	validator *Validator
	log       logging.Logger
}

func NewHandler(admission *Admission, reader *Reader, validator *Validator, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{admission: admission, reader: reader, validator: validator, log: log}
}

// Submit accepts a job and returns 202 with its id; the result is fetched with Poll.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := h.validator.ValidateRequest(body); err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	var req SubmitRequest
	if err := httpx.Unmarshal(body, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := h.admission.Submit(r.Context(), p.AccountID, req.Prompt)
	if err != nil {
		h.writeError(w, err, p.AccountID, "submit job failed")
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Status: job.Status})
}

// Poll never blocks: a job still being computed is returned with status pending.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	view, err := h.reader.Poll(r.Context(), jobID, p.AccountID)
	if err != nil {
		h.writeError(w, err, p.AccountID, "poll job failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.reader.List(r.Context(), p.AccountID)
	if err != nil {
		h.writeError(w, err, p.AccountID, "list jobs failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, accountID uuid.UUID, msg string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		httpx.WriteError(w, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, queue.ErrBrokerUnavailable):
		h.log.WithError(err).WithField("account_id", accountID).Warn(msg)
		httpx.WriteError(w, http.StatusServiceUnavailable, "job queue unavailable, no charge was kept")
	default:
		h.log.WithError(err).WithField("account_id", accountID).Error(msg)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
