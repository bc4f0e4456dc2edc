package campaign

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/pkg/response"
	"github.com/creditrail/credit-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createCampaignRequest struct {
	Name                  string    `json:"name" validate:"required,max=200"`
	Kind                  string    `json:"kind" validate:"campaign_kind"`
	CreditType            string    `json:"credit_type" validate:"required,credit_type"`
	CreditAmount          int64     `json:"credit_amount" validate:"required,gt=0"`
	TotalBudget           int64     `json:"total_budget" validate:"required,gt=0"`
	MinAccountAgeDays     *int      `json:"min_account_age_days,omitempty" validate:"omitempty,gte=0"`
	AllowedTiers          []string  `json:"allowed_tiers,omitempty"`
	NewUsersOnly          bool      `json:"new_users_only"`
	StartDate             time.Time `json:"start_date" validate:"required"`
	EndDate               time.Time `json:"end_date" validate:"required"`
	ExpirationDays        int       `json:"expiration_days" validate:"gte=0"`
	MaxAllocationsPerUser int       `json:"max_allocations_per_user" validate:"gte=0"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	c := &Campaign{
		Name:                  req.Name,
		Kind:                  Kind(req.Kind),
		CreditType:            account.CreditType(req.CreditType),
		CreditAmount:          req.CreditAmount,
		TotalBudget:           req.TotalBudget,
		MinAccountAgeDays:     req.MinAccountAgeDays,
		AllowedTiers:          req.AllowedTiers,
		NewUsersOnly:          req.NewUsersOnly,
		StartDate:             req.StartDate,
		EndDate:               req.EndDate,
		ExpirationDays:        req.ExpirationDays,
		MaxAllocationsPerUser: req.MaxAllocationsPerUser,
		IsActive:              true,
	}

	if err := h.svc.Create(r.Context(), c); err != nil {
		if errors.Is(err, ErrInvalid) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, c)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid campaign id")
		return
	}

	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "campaign not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, c)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	campaigns, err := h.svc.List(r.Context(), activeOnly, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, campaigns)
}

type updateBudgetRequest struct {
	TotalBudget int64 `json:"total_budget" validate:"required,gt=0"`
}

func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid campaign id")
		return
	}

	var req updateBudgetRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	if err := h.svc.UpdateBudget(r.Context(), id, req.TotalBudget); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(w, "campaign not found")
		case errors.Is(err, ErrInvalid):
			response.BadRequest(w, err.Error())
		default:
			response.InternalError(w)
		}
		return
	}

	response.NoContent(w)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid campaign id")
		return
	}

	if err := h.svc.SetActive(r.Context(), id, active); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "campaign not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.NoContent(w)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid campaign id")
		return
	}

	stats, err := h.svc.GetStats(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "campaign not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, stats)
}

func (h *Handler) Routes(serviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(serviceAuth)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/budget", h.UpdateBudget)
	r.Post("/{id}/activate", h.Activate)
	r.Post("/{id}/deactivate", h.Deactivate)
	r.Get("/{id}/stats", h.Stats)
	return r
}
