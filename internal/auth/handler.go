package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/inaiurai/promptq/internal/httpx"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/middleware"
	"github.com/inaiurai/promptq/internal/models"
)

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	Account   *models.Account `json:"account"`
	ExpiresIn int             `json:"expires_in"`
}

type Handler struct {
	svc          Service
	log          logging.Logger
	secureCookie bool
}

func NewHandler(svc Service, secureCookie bool, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{svc: svc, log: log, secureCookie: secureCookie}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidInput):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, ErrUsernameTaken):
		httpx.WriteError(w, http.StatusConflict, "username already registered")
		return
	default:
		h.log.WithError(err).Error("register failed")
		httpx.WriteError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	h.log.WithField("account_id", acc.ID).Info("account registered")
	httpx.WriteJSON(w, http.StatusCreated, acc)
}

// Login returns the token in the body and also sets it as an HttpOnly cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing username or password")
		return
	}
	token, acc, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.WithError(err).Error("login failed")
		httpx.WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(tokenTTL),
	})
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, Account: acc, ExpiresIn: int(tokenTTL.Seconds())})
}

// ListUsers is admin only; the router wraps it in RequireAdmin.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAccounts(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list accounts failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*models.Account{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
