package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"kings-storefront/internal/domain"
)

// --- Envelope helpers ---

// decodeList accepts a bare array or an object wrapping the array under one
// of keys, "data" or "items" (possibly nested, e.g. {"data":{"products":[...]}}).
func decodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("apiclient: decoding list: %w", err)
		}
		return out, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("apiclient: decoding list envelope: %w", err)
	}
	candidates := append(append([]string{}, keys...), "data", "items")
	for _, k := range candidates {
		if v, ok := obj[k]; ok {
			return decodeList[T](v, keys...)
		}
	}
	return nil, fmt.Errorf("apiclient: no list found in response (looked for %v)", candidates)
}

// decodeObject unwraps {"<key>": {...}} or {"data": {...}} when present.
func decodeObject[T any](raw json.RawMessage, keys ...string) (T, error) {
	var out T
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, k := range append(append([]string{}, keys...), "data") {
			if v, ok := obj[k]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '{' {
				raw = v
				break
			}
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("apiclient: decoding object: %w", err)
	}
	return out, nil
}

func (c *Client) getList(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// --- Catalog ---

// ProductInput is the body for creating or updating a product.
type ProductInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	StockID     string   `json:"stockId,omitempty"`
	Category    string   `json:"category,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// ListProducts fetches /api/products.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	raw, err := c.getList(ctx, "/api/products")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Product](raw, "products")
}

// GetProduct fetches /api/products/:id.
func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, "/api/products/"+url.PathEscape(id), &raw); err != nil {
		return nil, err
	}
	p, err := decodeObject[domain.Product](raw, "product")
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct posts a new product and returns the stored version.
func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	var raw json.RawMessage
	if err := c.Post(ctx, "/api/products", in, &raw); err != nil {
		return nil, err
	}
	p, err := decodeObject[domain.Product](raw, "product")
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct replaces product id and returns the stored version.
func (c *Client) UpdateProduct(ctx context.Context, id string, in ProductInput) (*domain.Product, error) {
	var raw json.RawMessage
	if err := c.Put(ctx, "/api/products/"+url.PathEscape(id), in, &raw); err != nil {
		return nil, err
	}
	p, err := decodeObject[domain.Product](raw, "product")
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProduct removes product id.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.Delete(ctx, "/api/products/"+url.PathEscape(id), nil)
}

// ListCategories fetches /api/categories.
func (c *Client) ListCategories(ctx context.Context) ([]domain.Category, error) {
	raw, err := c.getList(ctx, "/api/categories")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Category](raw, "categories")
}

// --- Cart ---

// AddToCartInput is the body of POST /api/cart.
type AddToCartInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
}

func (c *Client) decodeCart(raw json.RawMessage) (*domain.Cart, error) {
	items, err := decodeList[domain.CartItem](raw, "items", "cart")
	if err != nil {
		return nil, err
	}
	return &domain.Cart{Items: items}, nil
}

// GetCart fetches the signed-in customer's cart.
func (c *Client) GetCart(ctx context.Context) (*domain.Cart, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, "/api/cart", &raw); err != nil {
		return nil, err
	}
	return c.decodeCart(raw)
}

// AddToCart adds a product and returns the updated cart.
func (c *Client) AddToCart(ctx context.Context, in AddToCartInput) (*domain.Cart, error) {
	var raw json.RawMessage
	if err := c.Post(ctx, "/api/cart", in, &raw); err != nil {
		return nil, err
	}
	return c.decodeCart(raw)
}

// UpdateCartItem sets the quantity of cart item itemID.
func (c *Client) UpdateCartItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error) {
	var raw json.RawMessage
	body := map[string]int{"quantity": quantity}
	if err := c.Put(ctx, "/api/cart/item/"+url.PathEscape(itemID), body, &raw); err != nil {
		return nil, err
	}
	return c.decodeCart(raw)
}

// RemoveCartItem deletes cart item itemID.
func (c *Client) RemoveCartItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	var raw json.RawMessage
	if err := c.Delete(ctx, "/api/cart/item/"+url.PathEscape(itemID), &raw); err != nil {
		return nil, err
	}
	return c.decodeCart(raw)
}

// ClearCart empties the cart.
func (c *Client) ClearCart(ctx context.Context) error {
	return c.Delete(ctx, "/api/cart/clear", nil)
}

// --- Orders ---

// PlaceOrderInput is the body of POST /api/orders.
type PlaceOrderInput struct {
	Items           []domain.CartItem `json:"items"`
	PaymentMethod   string            `json:"paymentMethod"`
	ShippingAddress string            `json:"shippingAddress,omitempty"`
	Total           float64           `json:"total"`
}

// ListOrders fetches the signed-in customer's orders.
func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	raw, err := c.getList(ctx, "/api/orders")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Order](raw, "orders")
}

// RecentOrders fetches /api/orders/recent.
func (c *Client) RecentOrders(ctx context.Context) ([]domain.Order, error) {
	raw, err := c.getList(ctx, "/api/orders/recent")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Order](raw, "orders")
}

// PlaceOrder submits an order and returns it as stored.
func (c *Client) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	var raw json.RawMessage
	if err := c.Post(ctx, "/api/orders", in, &raw); err != nil {
		return nil, err
	}
	o, err := decodeObject[domain.Order](raw, "order")
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ClearOrders deletes the customer's order history.
func (c *Client) ClearOrders(ctx context.Context) error {
	return c.Delete(ctx, "/api/orders/clear", nil)
}

// --- Admin ---

// DashboardMetrics are the headline figures of the admin and sales dashboards.
// Fields the backend omits stay zero.
type DashboardMetrics struct {
	TotalOrders    int           `json:"totalOrders"`
	PendingOrders  int           `json:"pendingOrders"`
	TotalRevenue   domain.Amount `json:"totalRevenue"`
	TotalCustomers int           `json:"totalCustomers"`
	TotalProducts  int           `json:"totalProducts"`
	TodaySales     domain.Amount `json:"todaySales"`
}

// AdminDashboard fetches /api/admin/dashboard.
func (c *Client) AdminDashboard(ctx context.Context) (*DashboardMetrics, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, "/api/admin/dashboard", &raw); err != nil {
		return nil, err
	}
	m, err := decodeObject[DashboardMetrics](raw, "stats", "metrics")
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AdminOrders fetches every order visible to an admin.
func (c *Client) AdminOrders(ctx context.Context) ([]domain.Order, error) {
	raw, err := c.getList(ctx, "/api/admin/orders")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Order](raw, "orders")
}

// UpdateOrderStatus asks the backend to move order id to status. The backend
// decides whether the transition is allowed.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("apiclient: refusing to send unknown status %q", status)
	}
	var raw json.RawMessage
	body := map[string]domain.OrderStatus{"status": status}
	if err := c.Put(ctx, "/api/admin/orders/"+url.PathEscape(id)+"/status", body, &raw); err != nil {
		return nil, err
	}
	o, err := decodeObject[domain.Order](raw, "order")
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// AdminCustomers fetches /api/admin/customers.
func (c *Client) AdminCustomers(ctx context.Context) ([]domain.User, error) {
	raw, err := c.getList(ctx, "/api/admin/customers")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.User](raw, "customers", "users")
}

// --- Sales counter ---

// SaleItem is one line of a completed counter sale.
type SaleItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// CompleteSaleInput is the body of POST /api/sales/complete.
type CompleteSaleInput struct {
	Items          []SaleItem `json:"items"`
	Subtotal       float64    `json:"subtotal"`
	Tax            float64    `json:"tax"`
	Total          float64    `json:"total"`
	AmountReceived float64    `json:"amountReceived"`
	Change         float64    `json:"change"`
	PaymentMethod  string     `json:"paymentMethod"`
	CustomerName   string     `json:"customerName,omitempty"`
}

// SaleResult is what the backend returns for a completed sale.
type SaleResult struct {
	SaleID  string `json:"saleId"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// SalesDashboard fetches /api/sales/dashboard.
func (c *Client) SalesDashboard(ctx context.Context) (*DashboardMetrics, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, "/api/sales/dashboard", &raw); err != nil {
		return nil, err
	}
	m, err := decodeObject[DashboardMetrics](raw, "stats", "metrics")
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SalesProducts fetches the products available at the counter.
func (c *Client) SalesProducts(ctx context.Context) ([]domain.Product, error) {
	raw, err := c.getList(ctx, "/api/sales/products")
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Product](raw, "products")
}

// CompleteSale records a counter sale. idempotencyKey lets the backend
// de-duplicate a sale re-sent after an ambiguous failure.
func (c *Client) CompleteSale(ctx context.Context, in CompleteSaleInput, idempotencyKey string) (*SaleResult, error) {
	var res SaleResult
	var opts []RequestOption
	if idempotencyKey != "" {
		opts = append(opts, WithHeader("Idempotency-Key", idempotencyKey))
	}
	if err := c.Post(ctx, "/api/sales/complete", in, &res, opts...); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Users ---

// Credentials are an email/password pair.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupInput is the body of POST /api/users/signup/email.
type SignupInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by login and signup.
type AuthResult struct {
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
	Message string      `json:"message"`
}

// Login signs in. When session is non-nil a returned token is stored in it.
func (c *Client) Login(ctx context.Context, creds Credentials, session *Session) (*AuthResult, error) {
	var res AuthResult
	if err := c.Post(ctx, "/api/users/login", creds, &res); err != nil {
		return nil, err
	}
	if session != nil && res.Token != "" {
		session.Set(res.Token)
	}
	return &res, nil
}

// SignupEmail registers a new customer account.
func (c *Client) SignupEmail(ctx context.Context, in SignupInput, session *Session) (*AuthResult, error) {
	var res AuthResult
	if err := c.Post(ctx, "/api/users/signup/email", in, &res); err != nil {
		return nil, err
	}
	if session != nil && res.Token != "" {
		session.Set(res.Token)
	}
	return &res, nil
}

// OAuthURL is where a browser is sent to start sign-in with provider.
func (c *Client) OAuthURL(provider string) string {
	u, _ := c.resolve("/api/auth/" + url.PathEscape(provider))
	return u.String()
}
