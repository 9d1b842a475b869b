package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kings-storefront/internal/apiclient"
	"kings-storefront/internal/domain"
	"kings-storefront/internal/logger"
	"kings-storefront/internal/pos"
	"kings-storefront/internal/store"
)

// CatalogReader serves product and category reads. Both the catalog mirror
// and the PostgreSQL store satisfy it.
type CatalogReader interface {
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, params store.ListProductsParams) ([]domain.Product, int, error)
	ListCategories(ctx context.Context, params store.ListCategoriesParams) ([]domain.Category, int, error)
}

// SalesBackend is the part of the upstream API the POS, cart and order routes use.
type SalesBackend interface {
	CompleteSale(ctx context.Context, in apiclient.CompleteSaleInput, idempotencyKey string) (*apiclient.SaleResult, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetCart(ctx context.Context) (*domain.Cart, error)
}

// Pricing holds the quote parameters for the counter and the customer cart.
type Pricing struct {
	Counter pos.Pricing
	Cart    pos.Pricing
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	catalog  CatalogReader
	sales    SalesBackend
	receipts store.ReceiptStorer
	pricing  Pricing
	validate *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(catalog CatalogReader, sales SalesBackend, receipts store.ReceiptStorer, pricing Pricing) *HTTPHandler {
	return &HTTPHandler{
		catalog:  catalog,
		sales:    sales,
		receipts: receipts,
		pricing:  pricing,
		validate: validator.New(),
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"` // set when the caller must sign in again
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// PagedResponse is the envelope of every paginated list.
type PagedResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.WithModule("api").WithError(err).Error("failed to encode JSON response")
		}
	}
}

// respondWithUpstreamError maps a backend failure to a gateway response.
func respondWithUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.WithContext(r.Context()).WithError(err)
	msg := apiclient.UserMessage(err)

	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		log.Warn("upstream rejected credentials")
		respondWithJSON(w, http.StatusUnauthorized, ErrorResponse{Error: msg, Redirect: apiclient.LoginPath})
	case errors.Is(err, apiclient.ErrCircuitOpen):
		log.Warn("upstream circuit open")
		respondWithError(w, http.StatusServiceUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("upstream timed out")
		respondWithError(w, http.StatusGatewayTimeout, msg)
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && !errors.Is(err, apiclient.ErrNotJSON):
		log.Warn("upstream refused request")
		respondWithError(w, apiErr.Status, msg)
	default:
		log.Error("upstream request failed")
		respondWithError(w, http.StatusBadGateway, msg)
	}
}

// paging reads page and limit query parameters (defaults 1 and 10, limit capped at 100).
func paging(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	page, err = strconv.Atoi(q.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	return page, limit
}

func newPagedResponse[T any](items []T, page, limit, total int) PagedResponse[T] {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	if items == nil {
		items = []T{}
	}
	return PagedResponse[T]{
		Data:       items,
		Pagination: Pagination{Page: page, Limit: limit, TotalItems: total, TotalPages: totalPages},
	}
}

// --- Catalog Handlers ---

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, limit := paging(r)
	params := store.ListProductsParams{Limit: limit, Offset: (page - 1) * limit}

	qParams := r.URL.Query()
	if q := strings.TrimSpace(qParams.Get("q")); q != "" {
		params.SearchQuery = &q
	}
	if id := qParams.Get("category_id"); id != "" {
		params.CategoryID = &id
	}

	products, total, err := h.catalog.ListProducts(r.Context(), params)
	if err != nil {
		logger.WithContext(r.Context()).WithError(err).Error("ListProducts failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve products")
		return
	}
	respondWithJSON(w, http.StatusOK, newPagedResponse(products, page, limit, total))
}

func (h *HTTPHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if strings.TrimSpace(productID) == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := h.catalog.GetProductByID(r.Context(), productID)
	if err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
			return
		}
		logger.WithContext(r.Context()).WithError(err).WithField("product_id", productID).Error("GetProductByID failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve product")
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	page, limit := paging(r)
	params := store.ListCategoriesParams{Limit: limit, Offset: (page - 1) * limit}

	categories, total, err := h.catalog.ListCategories(r.Context(), params)
	if err != nil {
		logger.WithContext(r.Context()).WithError(err).Error("ListCategories failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve categories")
		return
	}
	respondWithJSON(w, http.StatusOK, newPagedResponse(categories, page, limit, total))
}

// --- Point of Sale Handlers ---

// QuoteInput defines the expected input for pricing a set of lines.
type QuoteInput struct {
	Lines          []pos.Line       `json:"lines" validate:"required,min=1"`
	TaxRate        *decimal.Decimal `json:"taxRate,omitempty"`
	ShippingFee    *decimal.Decimal `json:"shippingFee,omitempty"`
	AmountReceived *decimal.Decimal `json:"amountReceived,omitempty"`
}

// Pricing returns the handler's pricing with the input's overrides applied.
func (in QuoteInput) Pricing(base pos.Pricing) pos.Pricing {
	if in.TaxRate != nil {
		base.TaxRate = *in.TaxRate
	}
	if in.ShippingFee != nil {
		base.ShippingFee = *in.ShippingFee
	}
	return base
}

func (h *HTTPHandler) QuoteSale(w http.ResponseWriter, r *http.Request) {
	var input QuoteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	q, err := pos.Price(input.Lines, input.Pricing(h.pricing.Counter), input.AmountReceived)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, q)
}

// CheckoutInput defines the expected input for completing a counter sale.
type CheckoutInput struct {
	Lines          []pos.Line      `json:"lines" validate:"required,min=1"`
	AmountReceived decimal.Decimal `json:"amountReceived"`
	PaymentMethod  string          `json:"paymentMethod" validate:"required,max=50"`
	CustomerName   string          `json:"customerName" validate:"omitempty,max=255"`
}

// CheckoutRefused is returned with 422 when the payment does not cover the total.
type CheckoutRefused struct {
	Error string    `json:"error"`
	Quote pos.Quote `json:"quote"`
}

func saleInput(in CheckoutInput, q pos.Quote) apiclient.CompleteSaleInput {
	items := make([]apiclient.SaleItem, 0, len(in.Lines))
	for _, l := range in.Lines {
		items = append(items, apiclient.SaleItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     l.UnitPrice.InexactFloat64(),
		})
	}
	return apiclient.CompleteSaleInput{
		Items:          items,
		Subtotal:       q.Subtotal.InexactFloat64(),
		Tax:            q.Tax.InexactFloat64(),
		Total:          q.Total.InexactFloat64(),
		AmountReceived: q.Received.InexactFloat64(),
		Change:         q.Change.InexactFloat64(),
		PaymentMethod:  in.PaymentMethod,
		CustomerName:   in.CustomerName,
	}
}

// Checkout prices the lines, completes the sale upstream and records a
// receipt. A repeated Idempotency-Key returns the receipt already recorded.
func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var input CheckoutInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	ctx := r.Context()
	log := logger.WithContext(ctx)

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = uuid.NewString()
	} else if prior, err := h.receipts.GetReceiptByIdempotencyKey(ctx, key); err == nil {
		log.WithField("receipt_id", prior.ID).Info("replaying checkout")
		respondWithJSON(w, http.StatusOK, prior)
		return
	} else if !errors.Is(err, store.ErrReceiptNotFound) {
		log.WithError(err).Error("idempotency lookup failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to check prior sales")
		return
	}

	received := input.AmountReceived
	q, err := pos.Price(input.Lines, h.pricing.Counter, &received)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !q.Sufficient {
		respondWithJSON(w, http.StatusUnprocessableEntity, CheckoutRefused{Error: pos.ErrInsufficientPayment.Error(), Quote: q})
		return
	}

	res, err := h.sales.CompleteSale(ctx, saleInput(input, q), key)
	if err != nil {
		respondWithUpstreamError(w, r, err)
		return
	}

	receipt, err := pos.NewReceipt(key, input.PaymentMethod, input.CustomerName, input.Lines, q)
	if err != nil {
		log.WithError(err).Error("building receipt")
		respondWithError(w, http.StatusInternalServerError, "Failed to build receipt")
		return
	}
	receipt.SaleID = res.SaleID
	receipt.OrderID = res.OrderID

	if err := h.receipts.SaveReceipt(ctx, receipt); err != nil {
		if errors.Is(err, store.ErrReceiptExists) {
			if prior, lookupErr := h.receipts.GetReceiptByIdempotencyKey(ctx, key); lookupErr == nil {
				respondWithJSON(w, http.StatusOK, prior)
				return
			}
		}
		// The sale is already recorded upstream; the receipt is still returned.
		log.WithError(err).WithField("sale_id", res.SaleID).Error("saving receipt")
	}
	log.WithField("sale_id", res.SaleID).WithField("total", q.Total.String()).Info("sale completed")
	respondWithJSON(w, http.StatusCreated, receipt)
}

func (h *HTTPHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "receiptId"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid receipt ID format")
		return
	}

	receipt, err := h.receipts.GetReceipt(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrReceiptNotFound.Error())
			return
		}
		logger.WithContext(r.Context()).WithError(err).Error("GetReceipt failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve receipt")
		return
	}
	respondWithJSON(w, http.StatusOK, receipt)
}

// --- Cart Handlers ---

// CartSummary is the signed-in customer's cart with its priced totals.
type CartSummary struct {
	Items []domain.CartItem `json:"items"`
	Quote pos.Quote         `json:"quote"`
}

// GetCartSummary prices the upstream cart with the customer pricing. An
// empty cart carries no shipping fee.
func (h *HTTPHandler) GetCartSummary(w http.ResponseWriter, r *http.Request) {
	cart, err := h.sales.GetCart(r.Context())
	if err != nil {
		respondWithUpstreamError(w, r, err)
		return
	}
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}

	pricing := h.pricing.Cart
	if len(items) == 0 {
		pricing.ShippingFee = decimal.Zero
	}
	q, err := pos.Price(pos.LinesFromCart(items), pricing, nil)
	if err != nil {
		logger.WithContext(r.Context()).WithError(err).Warn("upstream cart has an unpriceable line")
		respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, CartSummary{Items: items, Quote: q})
}

// --- Order Handlers ---

// OrderProgress is the stepper view of one order.
type OrderProgress struct {
	OrderID  string               `json:"orderId"`
	Status   domain.OrderStatus   `json:"status"`
	Step     int                  `json:"step"` // -1 when cancelled or rejected
	Steps    []domain.OrderStatus `json:"steps"`
	Terminal bool                 `json:"terminal"`
}

func (h *HTTPHandler) GetOrderProgress(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	orders, err := h.sales.ListOrders(r.Context())
	if err != nil {
		respondWithUpstreamError(w, r, err)
		return
	}
	for _, o := range orders {
		if o.ID != orderID {
			continue
		}
		respondWithJSON(w, http.StatusOK, OrderProgress{
			OrderID:  o.ID,
			Status:   o.Status,
			Step:     o.Status.Step(),
			Steps:    domain.OrderSteps,
			Terminal: o.Status.Terminal(),
		})
		return
	}
	respondWithError(w, http.StatusNotFound, "order not found")
}

// RegisterRoutes registers the gateway routes with the chi router.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)              // GET /api/v1/products
		r.Get("/{productId}", h.GetProductByID) // GET /api/v1/products/{productId}
	})
	r.Get("/api/v1/categories", h.ListCategories) // GET /api/v1/categories

	r.Route("/api/v1/pos", func(r chi.Router) {
		r.Post("/quote", h.QuoteSale)                // POST /api/v1/pos/quote
		r.Post("/checkout", h.Checkout)              // POST /api/v1/pos/checkout
		r.Get("/receipts/{receiptId}", h.GetReceipt) // GET /api/v1/pos/receipts/{receiptId}
	})

	r.Get("/api/v1/cart", h.GetCartSummary)                        // GET /api/v1/cart
	r.Get("/api/v1/orders/{orderId}/progress", h.GetOrderProgress) // GET /api/v1/orders/{orderId}/progress
}
