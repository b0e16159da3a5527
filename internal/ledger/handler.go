package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/platform/httpx"
	"github.com/meridian-ledger/meridian/internal/shared"
)

// Handler exposes the journal-entry API.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Routes mounts the journal-entry endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/journal-entries", h.create)
	r.Get("/journal-entries", h.list)
	r.Get("/journal-entries/{id}", h.get)
	r.Put("/journal-entries/{id}", h.update)
	r.Delete("/journal-entries/{id}", h.delete)
	r.Post("/journal-entries/{id}/post", h.post)
	r.Post("/journal-entries/{id}/reverse", h.reverse)
}

type entryRequest struct {
	AccountID   int64   `json:"account_id" validate:"required"`
	Debit       float64 `json:"debit" validate:"gte=0"`
	Credit      float64 `json:"credit" validate:"gte=0"`
	Description string  `json:"description"`
}

type createRequest struct {
	Description string         `json:"description" validate:"required"`
	Date        time.Time      `json:"date"`
	Entries     []entryRequest `json:"entries" validate:"required,min=2,dive"`
	Post        bool           `json:"post"`
}

type updateRequest struct {
	Description string         `json:"description"`
	Date        time.Time      `json:"date"`
	Entries     []entryRequest `json:"entries" validate:"required,min=2,dive"`
}

type reverseRequest struct {
	Description string `json:"description"`
}

type entryResponse struct {
	ID          int64   `json:"id"`
	AccountID   int64   `json:"account_id"`
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
	Description string  `json:"description,omitempty"`
}

type transactionResponse struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	Amount      float64         `json:"amount"`
	Posted      bool            `json:"posted"`
	PostedAt    *time.Time      `json:"posted_at,omitempty"`
	Reference   *refResponse    `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Entries     []entryResponse `json:"entries,omitempty"`
}

type refResponse struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func toResponse(txn Transaction) transactionResponse {
	resp := transactionResponse{
		ID:          txn.ID,
		Number:      txn.Number,
		Description: txn.Description,
		Date:        txn.Date,
		Amount:      txn.Amount,
		Posted:      txn.Posted,
		PostedAt:    txn.PostedAt,
		CreatedAt:   txn.CreatedAt,
	}
	if txn.Reference != nil {
		resp.Reference = &refResponse{Type: txn.Reference.Type, ID: txn.Reference.ID}
	}
	for _, entry := range txn.Entries {
		resp.Entries = append(resp.Entries, entryResponse{
			ID:          entry.ID,
			AccountID:   entry.AccountID,
			AccountCode: entry.AccountCode,
			AccountName: entry.AccountName,
			Debit:       entry.Debit,
			Credit:      entry.Credit,
			Description: entry.Description,
		})
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := shared.TenantFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	txn, err := h.svc.Create(r.Context(), CreateInput{
		TenantID:    tenantID,
		Description: req.Description,
		Date:        req.Date,
		Entries:     toEntryInputs(req.Entries),
		Post:        req.Post,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(txn))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, err := shared.TenantFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
		return
	}
	var filter ListFilter
	if raw := r.URL.Query().Get("posted"); raw != "" {
		posted, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "posted must be a boolean")
			return
		}
		filter.Posted = &posted
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	txns, err := h.svc.List(r.Context(), tenantID, filter)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	items := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		items = append(items, toResponse(txn))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, txnID, ok := h.scope(w, r)
	if !ok {
		return
	}
	txn, err := h.svc.Get(r.Context(), tenantID, txnID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(txn))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenantID, txnID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	txn, err := h.svc.Update(r.Context(), UpdateInput{
		TenantID:      tenantID,
		TransactionID: txnID,
		Description:   req.Description,
		Date:          req.Date,
		Entries:       toEntryInputs(req.Entries),
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(txn))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	tenantID, txnID, ok := h.scope(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), tenantID, txnID, shared.ActorFromContext(r.Context())); err != nil {
		respondLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	tenantID, txnID, ok := h.scope(w, r)
	if !ok {
		return
	}
	txn, err := h.svc.PostStrict(r.Context(), tenantID, txnID, shared.ActorFromContext(r.Context()))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(txn))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	tenantID, txnID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	txn, err := h.svc.Reverse(r.Context(), tenantID, txnID, shared.ActorFromContext(r.Context()), req.Description)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(txn))
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (tenantID, txnID int64, ok bool) {
	tenantID, err := shared.TenantFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
		return 0, 0, false
	}
	txnID, err = strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transaction id must be numeric")
		return 0, 0, false
	}
	return tenantID, txnID, true
}

func toEntryInputs(reqs []entryRequest) []EntryInput {
	entries := make([]EntryInput, len(reqs))
	for i, req := range reqs {
		entries[i] = EntryInput{
			AccountID:   req.AccountID,
			Debit:       req.Debit,
			Credit:      req.Credit,
			Description: req.Description,
		}
	}
	return entries
}

func respondLedgerError(w http.ResponseWriter, err error) {
	var valErr *journal.ValidationError
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyPosted), errors.Is(err, ErrReferenceConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrTransactionPosted), errors.Is(err, ErrNotPosted):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	case errors.Is(err, ErrDeletionDisabled):
		httpx.Problem(w, http.StatusForbidden, "Deletion Disabled", err.Error())
	case errors.As(err, &valErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
