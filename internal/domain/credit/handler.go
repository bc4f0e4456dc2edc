package credit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/domain/campaign"
	"github.com/creditrail/credit-api/internal/middleware"
	"github.com/creditrail/credit-api/internal/pkg/accountsvc"
	"github.com/creditrail/credit-api/internal/pkg/response"
	"github.com/creditrail/credit-api/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type allocateRequest struct {
	UserID        uuid.UUID  `json:"user_id" validate:"required"`
	CreditType    string     `json:"credit_type" validate:"omitempty,credit_type"`
	Amount        int64      `json:"amount" validate:"omitempty,gt=0"`
	CampaignID    *uuid.UUID `json:"campaign_id"`
	ExpiresAt     *time.Time `json:"expires_at"`
	ReferenceType string     `json:"reference_type"`
	ReferenceID   string     `json:"reference_id"`

	Profile *profileRequest `json:"profile"`
}

type profileRequest struct {
	RegisteredAt time.Time `json:"registered_at"`
	Tier         string    `json:"tier"`
	IsNewUser    bool      `json:"is_new_user"`
}

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	params := AllocateParams{
		UserID:        req.UserID,
		CreditType:    account.CreditType(req.CreditType),
		Amount:        req.Amount,
		CampaignID:    req.CampaignID,
		ExpiresAt:     req.ExpiresAt,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
	}
	if req.Profile != nil {
		params.Profile = &campaign.UserProfile{
			UserID:       req.UserID,
			RegisteredAt: req.Profile.RegisteredAt,
			Tier:         req.Profile.Tier,
			IsNewUser:    req.Profile.IsNewUser,
		}
	}

	result, err := h.service.Allocate(r.Context(), params)
	if err != nil {
		respondError(w, err)
		return
	}
	if result.AlreadyGranted {
		response.OK(w, result)
		return
	}
	response.Created(w, result)
}

type consumeRequest struct {
	UserID          uuid.UUID `json:"user_id" validate:"required"`
	Amount          int64     `json:"amount" validate:"required,gt=0"`
	AllowPartial    bool      `json:"allow_partial"`
	BillingRecordID string    `json:"billing_record_id"`
}

func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	result, err := h.service.Consume(r.Context(), ConsumeParams{
		UserID:          req.UserID,
		Amount:          req.Amount,
		AllowPartial:    req.AllowPartial,
		BillingRecordID: req.BillingRecordID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, result)
}

type checkRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Amount int64     `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	availability, err := h.service.CheckAvailability(r.Context(), req.UserID, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, availability)
}

type transferRequest struct {
	ToUserID   uuid.UUID `json:"to_user_id" validate:"required"`
	CreditType string    `json:"credit_type" validate:"required,credit_type"`
	Amount     int64     `json:"amount" validate:"required,gt=0"`
}

// Transfer moves credits from the authenticated user to another user.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	fromUserID := middleware.GetUserID(r.Context())

	var req transferRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	result, err := h.service.Transfer(r.Context(), TransferParams{
		FromUserID: fromUserID,
		ToUserID:   req.ToUserID,
		CreditType: account.CreditType(req.CreditType),
		Amount:     req.Amount,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, result)
}

type refundRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	Amount        int64     `json:"amount" validate:"omitempty,gt=0"`
	Reason        string    `json:"reason" validate:"required,max=500"`
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	result, err := h.service.Refund(r.Context(), RefundParams{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, result)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	summary, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, summary)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, offset := paginationParams(r, 50)

	transactions, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	response.WithMeta(w, transactions, response.Meta{Limit: limit, Page: offset/limit + 1})
}

// SearchTransactions is the admin ledger view, filterable by user, type,
// reference and date range.
func (h *Handler) SearchTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := SearchFilters{}
	filters.Limit, filters.Offset = paginationParams(r, 100)

	if v := q.Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "invalid user_id")
			return
		}
		filters.UserID = &id
	}
	if v := q.Get("type"); v != "" {
		filters.Type = &v
	}
	if v := q.Get("reference_type"); v != "" {
		filters.ReferenceType = &v
	}
	if v := q.Get("reference_id"); v != "" {
		filters.ReferenceID = &v
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(w, "invalid from date, want RFC3339")
			return
		}
		filters.DateFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(w, "invalid to date, want RFC3339")
			return
		}
		filters.DateTo = &t
	}

	transactions, err := h.service.SearchTransactions(r.Context(), filters)
	if err != nil {
		respondError(w, err)
		return
	}
	response.WithMeta(w, transactions, response.Meta{Limit: filters.Limit, Page: filters.Offset/filters.Limit + 1})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, stats)
}

func paginationParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// Routes mounts the credit endpoints. Mutations that act on arbitrary users
// are service-to-service; balance, history and transfer act as the
// authenticated user.
func (h *Handler) Routes(userAuth, serviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(serviceAuth)
		r.Post("/allocate", h.Allocate)
		r.Post("/consume", h.Consume)
		r.Post("/check", h.Check)
		r.Post("/refund", h.Refund)
		r.Get("/admin/transactions", h.SearchTransactions)
		r.Get("/admin/stats", h.Stats)
	})

	r.Group(func(r chi.Router) {
		r.Use(userAuth)
		r.Get("/balance", h.GetBalance)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/transfer", h.Transfer)
	})

	return r
}

// respondError maps domain errors onto the response envelope.
func respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientError
	if errors.As(err, &insufficient) {
		response.UnprocessableWithDetails(w, "INSUFFICIENT_CREDITS", "insufficient credits", map[string]string{
			"requested": strconv.FormatInt(insufficient.Requested, 10),
			"available": strconv.FormatInt(insufficient.Available, 10),
			"deficit":   strconv.FormatInt(insufficient.Requested-insufficient.Available, 10),
		})
		return
	}

	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrSelfTransfer), errors.Is(err, account.ErrInvalidType):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, account.ErrNotFound), errors.Is(err, campaign.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrNotEligible):
		response.Forbidden(w, err.Error())
	case errors.Is(err, campaign.ErrBudgetExhausted):
		response.Conflict(w, "BUDGET_EXHAUSTED", err.Error())
	case errors.Is(err, campaign.ErrNotActive):
		response.Conflict(w, "CAMPAIGN_NOT_ACTIVE", err.Error())
	case errors.Is(err, ErrTransferNotAllowed):
		response.Conflict(w, "TRANSFER_NOT_ALLOWED", err.Error())
	case errors.Is(err, ErrNotRefundable):
		response.Conflict(w, "NOT_REFUNDABLE", err.Error())
	case errors.Is(err, ErrRefundExceedsOriginal):
		response.Conflict(w, "REFUND_EXCEEDS_ORIGINAL", err.Error())
	case errors.Is(err, ErrPlanConflict):
		response.Conflict(w, "CONFLICT", "concurrent modification, retry the request")
	case errors.Is(err, account.ErrInsufficientBalance):
		response.UnprocessableWithDetails(w, "INSUFFICIENT_CREDITS", "insufficient credits", nil)
	case errors.Is(err, accountsvc.ErrUnavailable):
		response.ServiceUnavailable(w, "account service unavailable")
	default:
		response.InternalError(w)
	}
}
