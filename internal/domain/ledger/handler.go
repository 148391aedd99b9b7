package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleanpoints/cleanpoints-api/internal/middleware"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/errorhandler"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/validator"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type balanceResponse struct {
	AccountID             uuid.UUID `json:"account_id"`
	Balance               int64     `json:"balance"`
	TotalEarnedActivities int64     `json:"total_earned_activities"`
	DiscountPercent       int64     `json:"discount_percent"`
}

type quoteResponse struct {
	Balance         int64           `json:"balance"`
	DiscountPercent int64           `json:"discount_percent"`
	BasePrice       decimal.Decimal `json:"base_price"`
	Charge          int64           `json:"charge"`
	Mode            string          `json:"mode"`
}

type adjustmentRequest struct {
	Kind      Kind   `json:"kind" validate:"required,oneof=earn spend"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=200"`
}

// Balance handles GET /ledger/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Balance(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	response.OK(w, balanceResponse{
		AccountID:             a.ID,
		Balance:               a.Balance,
		TotalEarnedActivities: a.TotalEarnedActivities,
		DiscountPercent:       h.engine.DiscountPolicy().Percent(a.Balance),
	})
}

// Transactions handles GET /ledger/transactions?limit=&offset=&order=
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseListOptions(w, r)
	if !ok {
		return
	}

	txs, err := h.engine.History(r.Context(), middleware.GetAccountID(r.Context()), opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	response.WithMeta(w, txs, response.Meta{
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		Count:   len(txs),
		HasNext: len(txs) == opts.Limit,
	})
}

// Quote handles GET /ledger/quote?price=
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	price, err := decimal.NewFromString(r.URL.Query().Get("price"))
	if err != nil || !price.IsPositive() {
		response.BadRequest(w, "price must be a positive decimal")
		return
	}

	a, err := h.engine.Balance(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	policy := h.engine.DiscountPolicy()
	q, err := policy.Quote(a.Balance, price)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	response.OK(w, quoteResponse{
		Balance:         a.Balance,
		DiscountPercent: q.Percent,
		BasePrice:       price,
		Charge:          q.Charge,
		Mode:            string(policy.Mode),
	})
}

// Audit handles GET /admin/accounts/{id}/audit
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	report, err := h.engine.Verify(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	response.OK(w, report)
}

// AccountTransactions handles GET /admin/accounts/{id}/transactions
func (h *Handler) AccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}
	opts, ok := parseListOptions(w, r)
	if !ok {
		return
	}

	txs, err := h.engine.History(r.Context(), id, opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	response.WithMeta(w, txs, response.Meta{Limit: opts.Limit, Offset: opts.Offset, Count: len(txs), HasNext: len(txs) == opts.Limit})
}

// Adjust handles POST /admin/accounts/{id}/adjustments
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	var req adjustmentRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	reference := "adjustment:" + req.Reference
	var receipt *Receipt
	if req.Kind == KindEarn {
		receipt, err = h.engine.Earn(r.Context(), id, req.Amount, reference, CategoryAdjustment)
	} else {
		receipt, err = h.engine.Spend(r.Context(), id, req.Amount, reference, CategoryAdjustment)
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	response.Created(w, receipt)
}

func parseListOptions(w http.ResponseWriter, r *http.Request) (ListOptions, bool) {
	q := r.URL.Query()
	var opts ListOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageSize {
			response.BadRequest(w, "limit must be between 1 and 100")
			return opts, false
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(w, "offset must be a non-negative integer")
			return opts, false
		}
		opts.Offset = n
	}
	switch Order(q.Get("order")) {
	case "", OrderNewestFirst:
		opts.Order = OrderNewestFirst
	case OrderOldestFirst:
		opts.Order = OrderOldestFirst
	default:
		response.BadRequest(w, "order must be asc or desc")
		return opts, false
	}

	return opts.Normalize(), true
}

// WriteError maps engine errors onto the HTTP envelope with their stable code.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := Code(err)
	status := http.StatusInternalServerError
	message := "An unexpected error occurred"

	switch code {
	case CodeAccountNotFound:
		status, message = http.StatusNotFound, "Account not found"
	case CodeAccountDisabled:
		status, message = http.StatusForbidden, "Account is disabled"
	case CodeInvalidAmount:
		status, message = http.StatusBadRequest, "Amount must be greater than zero"
	case CodeInvalidCategory:
		status, message = http.StatusBadRequest, "Unknown transaction category"
	case CodeInsufficientBalance:
		status, message = http.StatusConflict, "Insufficient balance"
	case CodeConflict:
		status, message = http.StatusConflict, "Balance changed concurrently, retry"
	case CodeStorageFailure:
		w.Header().Set("Retry-After", "1")
		status, message = http.StatusServiceUnavailable, "Ledger temporarily unavailable, retry"
	}

	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInvalidAmount) {
		// expected client outcomes; skip the error-level log
		response.Error(w, status, code, message)
		return
	}
	errorhandler.HandleError(r.Context(), w, status, code, message, err)
}

// Routes mounts under /ledger
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Get("/quote", h.Quote)

	return r
}

// AdminRoutes mounts under /admin/accounts/{id}
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/audit", h.Audit)
	r.Get("/transactions", h.AccountTransactions)
	r.Post("/adjustments", h.Adjust)
}
