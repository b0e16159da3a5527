package posting

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ledger/meridian/internal/accounts"
	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/ledger"
	"github.com/meridian-ledger/meridian/internal/platform/httpx"
	"github.com/meridian-ledger/meridian/internal/shared"
)

// IdempotencyChecker guards event intake against duplicate submissions that
// carry an Idempotency-Key header.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
	Delete(ctx context.Context, tenantID int64, key string) error
}

// Handler exposes the event intake API.
type Handler struct {
	svc      *Service
	idem     IdempotencyChecker
	validate *validator.Validate
}

// NewHandler constructs Handler. idem may be nil when intake runs without the
// header-based guard.
func NewHandler(svc *Service, idem IdempotencyChecker) *Handler {
	return &Handler{svc: svc, idem: idem, validate: validator.New()}
}

// Routes mounts the event intake endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sales", h.sale)
	r.Post("/purchases", h.purchase)
	r.Post("/payments/receivable", h.receivablePayment)
	r.Post("/payments/payable", h.payablePayment)
	r.Post("/sales-returns", h.salesReturn)
	r.Post("/purchase-returns", h.purchaseReturn)
}

type paymentSplitRequest struct {
	Method string  `json:"method" validate:"required"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

type lineItemRequest struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
}

type saleRequest struct {
	Number     string                `json:"number" validate:"required"`
	CustomerID int64                 `json:"customer_id"`
	Amount     float64               `json:"amount" validate:"required,gt=0"`
	Tax        float64               `json:"tax" validate:"gte=0"`
	Discount   float64               `json:"discount" validate:"gte=0"`
	Payments   []paymentSplitRequest `json:"payments" validate:"dive"`
	Items      []lineItemRequest     `json:"items" validate:"dive"`
	Date       time.Time             `json:"date"`
	DueDate    time.Time             `json:"due_date"`
}

type purchaseRequest struct {
	Number     string            `json:"number" validate:"required"`
	SupplierID int64             `json:"supplier_id" validate:"required"`
	Amount     float64           `json:"amount" validate:"required,gt=0"`
	Items      []lineItemRequest `json:"items" validate:"dive"`
	Date       time.Time         `json:"date"`
	DueDate    time.Time         `json:"due_date"`
}

type paymentRequest struct {
	Number         string    `json:"number" validate:"required"`
	CounterpartyID int64     `json:"counterparty_id"`
	Amount         float64   `json:"amount" validate:"required,gt=0"`
	Method         string    `json:"method"`
	Date           time.Time `json:"date"`
}

type salesReturnRequest struct {
	Number     string            `json:"number" validate:"required"`
	CustomerID int64             `json:"customer_id"`
	Amount     float64           `json:"amount" validate:"required,gt=0"`
	Items      []lineItemRequest `json:"items" validate:"dive"`
	Restock    bool              `json:"restock"`
	Date       time.Time         `json:"date"`
}

type purchaseReturnRequest struct {
	Number     string            `json:"number" validate:"required"`
	SupplierID int64             `json:"supplier_id"`
	Amount     float64           `json:"amount" validate:"required,gt=0"`
	Items      []lineItemRequest `json:"items" validate:"dive"`
	Restocked  bool              `json:"restocked"`
	Date       time.Time         `json:"date"`
}

type postedResponse struct {
	TransactionID int64   `json:"transaction_id"`
	Number        string  `json:"number"`
	Amount        float64 `json:"amount"`
	Posted        bool    `json:"posted"`
}

func (h *Handler) sale(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, "sale", func(ctx context.Context, tenantID, actorID int64) (ledger.Transaction, error) {
		var req saleRequest
		if err := h.decode(r, &req); err != nil {
			return ledger.Transaction{}, err
		}
		return h.svc.RecordSale(ctx, tenantID, journal.SaleEvent{
			Number:     req.Number,
			CustomerID: req.CustomerID,
			Amount:     req.Amount,
			Tax:        req.Tax,
			Discount:   req.Discount,
			Payments:   toSplits(req.Payments),
			Items:      toItems(req.Items),
			Date:       req.Date,
			DueDate:    req.DueDate,
		}, actorID)
	})
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, "purchase", func(ctx context.Context, tenantID, actorID int64) (ledger.Transaction, error) {
		var req purchaseRequest
		if err := h.decode(r, &req); err != nil {
			return ledger.Transaction{}, err
		}
		return h.svc.RecordPurchase(ctx, tenantID, journal.PurchaseEvent{
			Number:     req.Number,
			SupplierID: req.SupplierID,
			Amount:     req.Amount,
			Items:      toItems(req.Items),
			Date:       req.Date,
			DueDate:    req.DueDate,
		}, actorID)
	})
}

func (h *Handler) receivablePayment(w http.ResponseWriter, r *http.Request) {
	h.payment(w, r, "receivable_payment", h.svc.RecordReceivablePayment)
}

func (h *Handler) payablePayment(w http.ResponseWriter, r *http.Request) {
	h.payment(w, r, "payable_payment", h.svc.RecordPayablePayment)
}

func (h *Handler) payment(w http.ResponseWriter, r *http.Request, module string,
	record func(context.Context, int64, journal.PaymentEvent, int64) (ledger.Transaction, error)) {
	h.intake(w, r, module, func(ctx context.Context, tenantID, actorID int64) (ledger.Transaction, error) {
		var req paymentRequest
		if err := h.decode(r, &req); err != nil {
			return ledger.Transaction{}, err
		}
		return record(ctx, tenantID, journal.PaymentEvent{
			Number:         req.Number,
			CounterpartyID: req.CounterpartyID,
			Amount:         req.Amount,
			Method:         req.Method,
			Date:           req.Date,
		}, actorID)
	})
}

func (h *Handler) salesReturn(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, "sales_return", func(ctx context.Context, tenantID, actorID int64) (ledger.Transaction, error) {
		var req salesReturnRequest
		if err := h.decode(r, &req); err != nil {
			return ledger.Transaction{}, err
		}
		return h.svc.RecordSalesReturn(ctx, tenantID, journal.SalesReturnEvent{
			Number:     req.Number,
			CustomerID: req.CustomerID,
			Amount:     req.Amount,
			Items:      toItems(req.Items),
			Restock:    req.Restock,
			Date:       req.Date,
		}, actorID)
	})
}

func (h *Handler) purchaseReturn(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, "purchase_return", func(ctx context.Context, tenantID, actorID int64) (ledger.Transaction, error) {
		var req purchaseReturnRequest
		if err := h.decode(r, &req); err != nil {
			return ledger.Transaction{}, err
		}
		return h.svc.RecordPurchaseReturn(ctx, tenantID, journal.PurchaseReturnEvent{
			Number:     req.Number,
			SupplierID: req.SupplierID,
			Amount:     req.Amount,
			Items:      toItems(req.Items),
			Restocked:  req.Restocked,
			Date:       req.Date,
		}, actorID)
	})
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request, module string,
	record func(ctx context.Context, tenantID, actorID int64) (ledger.Transaction, error)) {
	ctx := r.Context()
	tenantID, err := shared.TenantFromContext(ctx)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
		return
	}
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(ctx, tenantID, idemKey, module); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
				return
			}
			httpx.RespondError(w, err)
			return
		}
	}
	txn, err := record(ctx, tenantID, shared.ActorFromContext(ctx))
	if err != nil {
		// The key only marks processed requests; free it so a corrected
		// retry can reuse it.
		if idemKey != "" && h.idem != nil {
			_ = h.idem.Delete(ctx, tenantID, idemKey)
		}
		respondPostingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, postedResponse{
		TransactionID: txn.ID,
		Number:        txn.Number,
		Amount:        txn.Amount,
		Posted:        txn.Posted,
	})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return &journal.ValidationError{Reason: err.Error()}
	}
	if err := h.validate.Struct(target); err != nil {
		return &journal.ValidationError{Reason: err.Error()}
	}
	return nil
}

func toSplits(reqs []paymentSplitRequest) []journal.PaymentSplit {
	splits := make([]journal.PaymentSplit, len(reqs))
	for i, req := range reqs {
		splits[i] = journal.PaymentSplit{Method: req.Method, Amount: req.Amount}
	}
	return splits
}

func toItems(reqs []lineItemRequest) []journal.LineItem {
	items := make([]journal.LineItem, len(reqs))
	for i, req := range reqs {
		items[i] = journal.LineItem{ProductID: req.ProductID, Quantity: req.Quantity, UnitCost: req.UnitCost}
	}
	return items
}

func respondPostingError(w http.ResponseWriter, err error) {
	var valErr *journal.ValidationError
	var mapErr *journal.MissingAccountMappingError
	switch {
	case errors.As(err, &valErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &mapErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Account Mapping Missing", err.Error())
	case errors.Is(err, accounts.ErrNoChartOfAccounts):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Chart Missing", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
