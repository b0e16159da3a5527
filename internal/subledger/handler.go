package subledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ledger/meridian/internal/platform/httpx"
	"github.com/meridian-ledger/meridian/internal/shared"
)

// Handler exposes the receivable and payable APIs.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Routes mounts the subsidiary-ledger endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/receivables", h.listKind(KindReceivable))
	r.Get("/receivables/aging", h.aging(KindReceivable))
	r.Get("/receivables/{id}", h.get(KindReceivable))
	r.Post("/receivables/{id}/payments", h.pay(KindReceivable))
	r.Get("/payables", h.listKind(KindPayable))
	r.Get("/payables/aging", h.aging(KindPayable))
	r.Get("/payables/{id}", h.get(KindPayable))
	r.Post("/payables/{id}/payments", h.pay(KindPayable))
}

type paymentRequest struct {
	Amount float64   `json:"amount" validate:"required,gt=0"`
	Method string    `json:"method"`
	Date   time.Time `json:"date"`
}

type recordResponse struct {
	ID             int64      `json:"id"`
	Kind           Kind       `json:"kind"`
	CounterpartyID int64      `json:"counterparty_id"`
	TransactionID  int64      `json:"transaction_id"`
	Number         string     `json:"number"`
	Amount         float64    `json:"amount"`
	Outstanding    float64    `json:"outstanding"`
	Status         Status     `json:"status"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	LedgerPending  bool       `json:"ledger_pending,omitempty"`
}

func toRecordResponse(rec Record) recordResponse {
	resp := recordResponse{
		ID:             rec.ID,
		Kind:           rec.Kind,
		CounterpartyID: rec.CounterpartyID,
		TransactionID:  rec.TransactionID,
		Number:         rec.Number,
		Amount:         rec.Amount,
		Outstanding:    rec.Outstanding,
		Status:         rec.Status,
	}
	if !rec.DueDate.IsZero() {
		due := rec.DueDate
		resp.DueDate = &due
	}
	return resp
}

func (h *Handler) listKind(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := shared.TenantFromContext(r.Context())
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
			return
		}
		var filter ListFilter
		filter.Status = Status(r.URL.Query().Get("status"))
		if raw := r.URL.Query().Get("limit"); raw != "" {
			filter.Limit, _ = strconv.Atoi(raw)
		}
		records, err := h.svc.List(r.Context(), tenantID, kind, filter)
		if err != nil {
			respondSubledgerError(w, err)
			return
		}
		items := make([]recordResponse, 0, len(records))
		for _, rec := range records {
			items = append(items, toRecordResponse(rec))
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (h *Handler) get(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, recordID, ok := scope(w, r)
		if !ok {
			return
		}
		rec, err := h.svc.Get(r.Context(), tenantID, recordID)
		if err != nil {
			respondSubledgerError(w, err)
			return
		}
		if rec.Kind != kind {
			httpx.Problem(w, http.StatusNotFound, "Not Found", ErrRecordNotFound.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

func (h *Handler) pay(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, recordID, ok := scope(w, r)
		if !ok {
			return
		}
		var req paymentRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		existing, err := h.svc.Get(r.Context(), tenantID, recordID)
		if err != nil {
			respondSubledgerError(w, err)
			return
		}
		if existing.Kind != kind {
			httpx.Problem(w, http.StatusNotFound, "Not Found", ErrRecordNotFound.Error())
			return
		}
		rec, err := h.svc.ApplyPayment(r.Context(), PaymentInput{
			TenantID: tenantID,
			RecordID: recordID,
			Amount:   req.Amount,
			Method:   req.Method,
			Date:     req.Date,
			ActorID:  shared.ActorFromContext(r.Context()),
		})
		if err != nil {
			var postErr *LedgerPostError
			if errors.As(err, &postErr) {
				// The settlement committed; only the journal side is pending.
				resp := toRecordResponse(rec)
				resp.LedgerPending = true
				httpx.JSON(w, http.StatusOK, resp)
				return
			}
			respondSubledgerError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

func (h *Handler) aging(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := shared.TenantFromContext(r.Context())
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
			return
		}
		report, err := h.svc.Aging(r.Context(), tenantID, kind)
		if err != nil {
			respondSubledgerError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, report)
	}
}

func scope(w http.ResponseWriter, r *http.Request) (tenantID, recordID int64, ok bool) {
	tenantID, err := shared.TenantFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
		return 0, 0, false
	}
	recordID, err = strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "record id must be numeric")
		return 0, 0, false
	}
	return tenantID, recordID, true
}

func respondSubledgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRecordSettled):
		httpx.Problem(w, http.StatusConflict, "Already Settled", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
