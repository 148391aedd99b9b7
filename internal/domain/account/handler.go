package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cleanpoints/cleanpoints-api/internal/middleware"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/validator"
)

// TokenIssuer mints access tokens for newly opened accounts.
type TokenIssuer interface {
	GenerateAccessToken(accountID uuid.UUID, role string) (string, error)
	GetAccessTTL() time.Duration
}

type Handler struct {
	service *Service
	tokens  TokenIssuer
}

func NewHandler(service *Service, tokens TokenIssuer) *Handler {
	return &Handler{service: service, tokens: tokens}
}

// Open handles POST /accounts
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	a, err := h.service.Open(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(w, "Email already registered")
			return
		}
		log.Error().Err(err).Msg("open account failed")
		response.InternalError(w)
		return
	}

	token, err := h.tokens.GenerateAccessToken(a.ID, middleware.RoleMember)
	if err != nil {
		log.Error().Err(err).Str("account_id", a.ID.String()).Msg("issue access token failed")
		response.InternalError(w)
		return
	}

	response.Created(w, OpenResponse{
		Account:     AccountResponseFromEntity(a),
		AccessToken: token,
		ExpiresIn:   int(h.tokens.GetAccessTTL().Seconds()),
	})
}

// Me handles GET /accounts/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, AccountResponseFromEntity(a))
}

// UpdateMe handles PATCH /accounts/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	a, err := h.service.UpdateProfile(r.Context(), middleware.GetAccountID(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, AccountResponseFromEntity(a))
}

// Disable handles POST /admin/accounts/{id}/disable
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, true)
}

// Enable handles POST /admin/accounts/{id}/enable
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, false)
}

func (h *Handler) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	if disabled {
		err = h.service.Disable(r.Context(), id)
	} else {
		err = h.service.Enable(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	response.NoContent(w)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
	case errors.Is(err, ErrNothingToUpdate):
		response.BadRequest(w, "No updatable fields supplied")
	default:
		log.Error().Err(err).Msg("account request failed")
		response.InternalError(w)
	}
}

// Routes mounts under /accounts
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Open)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/me", h.Me)
		r.Patch("/me", h.UpdateMe)
	})

	return r
}
