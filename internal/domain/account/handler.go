package account

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/pkg/response"
	"github.com/creditrail/credit-api/internal/pkg/validator"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

type createAccountRequest struct {
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	CreditType string    `json:"credit_type" validate:"required,credit_type"`
}

// Create is idempotent: an existing (user, type) account is returned as-is.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	acc, err := h.store.GetOrCreate(r.Context(), req.UserID, CreditType(req.CreditType))
	if err != nil {
		if errors.Is(err, ErrInvalidType) {
			response.BadRequest(w, "invalid credit type")
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, acc)
}

func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	accounts, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, accounts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid account id")
		return
	}

	acc, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "account not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, acc)
}

func (h *Handler) Routes(serviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(serviceAuth)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/user/{userID}", h.ListByUser)
	return r
}
