package activity

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/catalog"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/recycling"
	"github.com/cleanpoints/cleanpoints-api/internal/middleware"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/errorhandler"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/storage"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CompleteCourse handles POST /activities/courses/{id}/complete
func (h *Handler) CompleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid course ID")
		return
	}

	receipt, err := h.service.CompleteCourse(r.Context(), middleware.GetAccountID(r.Context()), courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, receipt)
}

// SubmitRecycling handles POST /activities/recycling (multipart: container_id, photo)
func (h *Handler) SubmitRecycling(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxEvidenceSize+64<<10)
	if err := r.ParseMultipartForm(storage.MaxEvidenceSize); err != nil {
		response.BadRequest(w, "Invalid multipart form")
		return
	}

	containerID := r.FormValue("container_id")
	if err := validator.ValidateVar(containerID, "required,container_id"); err != nil {
		response.ValidationError(w, map[string]string{"container_id": "Invalid container ID"})
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		response.BadRequest(w, "photo is required")
		return
	}
	defer file.Close()

	photo, contentType, err := storage.ReadEvidence(file, storage.MaxEvidenceSize)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrFileTooLarge):
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Photo exceeds maximum size")
		case errors.Is(err, storage.ErrInvalidMimeType), errors.Is(err, storage.ErrEmptyFile):
			response.BadRequest(w, "photo must be a JPEG, PNG or GIF image")
		default:
			response.BadRequest(w, "Failed to read photo")
		}
		return
	}

	result, err := h.service.SubmitRecycling(r.Context(), middleware.GetAccountID(r.Context()), containerID, photo, contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !result.Valid {
		response.OK(w, result)
		return
	}
	response.Created(w, result)
}

// Purchase handles POST /activities/purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	receipt, err := h.service.Purchase(r.Context(), middleware.GetAccountID(r.Context()), req.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, receipt)
}

// RedeemReward handles POST /activities/rewards/{id}/redeem
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	rewardID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid reward ID")
		return
	}

	receipt, err := h.service.RedeemReward(r.Context(), middleware.GetAccountID(r.Context()), rewardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, receipt)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrCourseNotFound):
		response.Error(w, http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found")
	case errors.Is(err, catalog.ErrProductNotFound):
		response.Error(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found")
	case errors.Is(err, catalog.ErrRewardNotFound):
		response.Error(w, http.StatusNotFound, "REWARD_NOT_FOUND", "Reward not found")
	case errors.Is(err, catalog.ErrUnavailable):
		response.Error(w, http.StatusConflict, "ITEM_UNAVAILABLE", "Item is not available")
	case errors.Is(err, recycling.ErrValidatorUnavailable):
		w.Header().Set("Retry-After", "30")
		errorhandler.HandleError(r.Context(), w, http.StatusServiceUnavailable, "VALIDATOR_UNAVAILABLE", "Photo validation is temporarily unavailable", err)
	default:
		ledger.WriteError(w, r, err)
	}
}

// EvidenceAccess guards /evidence/*: keys have the form
// recycling/<account>/<file> and only that account or an admin may read them.
// Everything else is answered with 404 so keys cannot be probed.
func EvidenceAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
		parts := strings.Split(key, "/")
		if len(parts) != 3 || parts[0] != "recycling" {
			response.NotFound(w, "Evidence not found")
			return
		}
		owner, err := uuid.Parse(parts[1])
		if err != nil {
			response.NotFound(w, "Evidence not found")
			return
		}
		if owner != middleware.GetAccountID(r.Context()) && middleware.GetRole(r.Context()) != middleware.RoleAdmin {
			response.NotFound(w, "Evidence not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Routes mounts under /activities. recyclingLimit throttles photo submissions.
func (h *Handler) Routes(authMiddleware, recyclingLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/courses/{id}/complete", h.CompleteCourse)
	r.With(recyclingLimit).Post("/recycling", h.SubmitRecycling)
	r.Post("/purchases", h.Purchase)
	r.Post("/rewards/{id}/redeem", h.RedeemReward)

	return r
}
