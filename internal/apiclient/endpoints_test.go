package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kings-storefront/internal/domain"
	"kings-storefront/internal/pos"
)

// fakeCartBackend keeps one customer cart in memory and answers the cart
// endpoints the way the platform backend does.
type fakeCartBackend struct {
	mu     sync.Mutex
	items  []map[string]any
	nextID int
}

func (b *fakeCartBackend) snapshot() map[string]any {
	items := make([]map[string]any, len(b.items))
	copy(items, b.items)
	return map[string]any{"cart": map[string]any{"items": items}}
}

func (b *fakeCartBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/cart", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.snapshot())
	})
	r.Post("/api/cart", func(w http.ResponseWriter, r *http.Request) {
		var in AddToCartInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Quantity < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid cart item"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.nextID++
		b.items = append(b.items, map[string]any{
			"_id":      fmt.Sprintf("line-%d", b.nextID),
			"product":  map[string]any{"_id": in.ProductID, "name": "Kanzu", "price": "10000"},
			"quantity": in.Quantity,
			"size":     in.Size,
		})
		writeJSON(w, http.StatusCreated, b.snapshot())
	})
	r.Put("/api/cart/item/{itemId}", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Quantity int `json:"quantity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, it := range b.items {
			if it["_id"] == chi.URLParam(r, "itemId") {
				it["quantity"] = in.Quantity
				writeJSON(w, http.StatusOK, b.snapshot())
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Cart item not found"})
	})
	r.Delete("/api/cart/clear", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.items = nil
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/api/cart/item/{itemId}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, it := range b.items {
			if it["_id"] == chi.URLParam(r, "itemId") {
				b.items = append(b.items[:i:i], b.items[i+1:]...)
				break
			}
		}
		writeJSON(w, http.StatusOK, b.snapshot())
	})
	return r
}

func TestCart_EndToEndScenario(t *testing.T) {
	backend := &fakeCartBackend{}
	srv := httptest.NewServer(backend.routes())
	defer srv.Close()

	ctx := context.Background()
	c := newTestClient(t, srv, &sleepRecorder{})

	cart, err := c.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	cart, err = c.AddToCart(ctx, AddToCartInput{ProductID: "p1", Quantity: 1, Size: "M"})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	item := cart.Items[0]
	assert.Equal(t, "line-1", item.ID)
	assert.Equal(t, "p1", item.ProductID)
	require.NotNil(t, item.Product)
	assert.Equal(t, "Kanzu", item.Product.Title)

	cart, err = c.UpdateCartItem(ctx, item.ID, 3)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, "30000", pos.Subtotal(pos.LinesFromCart(cart.Items)).String())

	cart, err = c.RemoveCartItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	require.NoError(t, c.ClearCart(ctx))

	cart, err = c.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.True(t, pos.Subtotal(pos.LinesFromCart(cart.Items)).IsZero())
}

func TestCart_UnknownItemIsNotRetried(t *testing.T) {
	srv := httptest.NewServer((&fakeCartBackend{}).routes())
	defer srv.Close()

	rec := &sleepRecorder{}
	c := newTestClient(t, srv, rec)
	_, err := c.UpdateCartItem(context.Background(), "missing", 2)

	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Equal(t, "Cart item not found", UserMessage(err))
	assert.Empty(t, rec.Delays())
}

func TestCompleteSale_SendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sales/complete", r.URL.Path)
		assert.Equal(t, "sale-123", r.Header.Get("Idempotency-Key"))
		var in CompleteSaleInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, 27125.0, in.Total)
		writeJSON(w, http.StatusOK, SaleResult{SaleID: "s1", OrderID: "o1", Message: "Sale completed"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})
	res, err := c.CompleteSale(context.Background(), CompleteSaleInput{Total: 27125}, "sale-123")

	require.NoError(t, err)
	assert.Equal(t, "s1", res.SaleID)
	assert.Equal(t, "o1", res.OrderID)
}

func TestUpdateOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/admin/orders/o1/status", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"order": map[string]any{"orderId": "o1", "status": "shipped"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})

	o, err := c.UpdateOrderStatus(context.Background(), "o1", domain.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, domain.StatusShipped, o.Status)

	_, err = c.UpdateOrderStatus(context.Background(), "o1", domain.OrderStatus("teleported"))
	assert.Error(t, err)
}

func TestLoadAdminOverview(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/admin/dashboard", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"totalOrders": 4, "pendingOrders": 1}})
	})
	r.Get("/api/admin/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"orders": []map[string]any{{"_id": "o1", "status": "pending", "totalAmount": 27125}}})
	})
	r.Get("/api/admin/customers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"_id": "u1", "name": "Amina", "orderCount": 2}})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})
	ov, err := c.LoadAdminOverview(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, ov.Metrics.TotalOrders)
	require.Len(t, ov.Orders, 1)
	assert.Equal(t, 27125.0, ov.Orders[0].Total)
	require.Len(t, ov.Customers, 1)
	assert.Equal(t, 2, ov.Customers[0].Stats.OrderCount)
	assert.True(t, ov.Customers[0].IsActive)
}

func TestLoadSalesOverview_FirstErrorCancelsTheRest(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/sales/dashboard", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "sales agents only"})
	})
	r.Get("/api/sales/products", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		writeJSON(w, http.StatusOK, []any{})
	})
	r.Get("/api/orders/recent", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})
	start := time.Now()
	ov, err := c.LoadSalesOverview(context.Background())

	require.Error(t, err)
	assert.Nil(t, ov)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Less(t, time.Since(start), 4*time.Second)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestProductWrites(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	r := chi.NewRouter()
	r.Post("/api/products", func(w http.ResponseWriter, r *http.Request) {
		var in ProductInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Kanzu", in.Title)
		assert.Equal(t, []string{"/img/kanzu.png"}, in.Images)
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "Product created",
			"product": map[string]any{"_id": "p1", "title": in.Title, "price": in.Price, "images": in.Images},
		})
	})
	r.Put("/api/products/{productId}", func(w http.ResponseWriter, r *http.Request) {
		var in ProductInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"_id": chi.URLParam(r, "productId"), "name": in.Title, "price": fmt.Sprintf("%.0f", in.Price)},
		})
	})
	r.Delete("/api/products/{productId}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deleted = append(deleted, chi.URLParam(r, "productId"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})
	ctx := context.Background()

	created, err := c.CreateProduct(ctx, ProductInput{Title: "Kanzu", Price: 45000, Images: []string{"/img/kanzu.png"}})
	require.NoError(t, err)
	assert.Equal(t, "p1", created.ID)
	assert.Equal(t, 45000.0, created.Price)
	assert.Equal(t, "/img/kanzu.png", created.Image)

	updated, err := c.UpdateProduct(ctx, "p1", ProductInput{Title: "Kanzu XL", Price: 47000})
	require.NoError(t, err)
	assert.Equal(t, "p1", updated.ID)
	assert.Equal(t, "Kanzu XL", updated.Title)
	assert.Equal(t, 47000.0, updated.Price)
	assert.Equal(t, domain.PlaceholderImage, updated.Image)

	require.NoError(t, c.DeleteProduct(ctx, "p1"))
	mu.Lock()
	assert.Equal(t, []string{"p1"}, deleted)
	mu.Unlock()
}

func TestOrderWrites(t *testing.T) {
	var mu sync.Mutex
	cleared := false
	r := chi.NewRouter()
	r.Post("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		var in PlaceOrderInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "mobile_money", in.PaymentMethod)
		require.Len(t, in.Items, 1)
		assert.Equal(t, "p1", in.Items[0].ProductID)
		writeJSON(w, http.StatusCreated, map[string]any{
			"order": map[string]any{"orderId": "o9", "status": "Pending", "totalAmount": "90,000", "items": []any{}},
		})
	})
	r.Delete("/api/orders/clear", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cleared = true
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})
	ctx := context.Background()

	o, err := c.PlaceOrder(ctx, PlaceOrderInput{
		Items:         []domain.CartItem{{ProductID: "p1", Quantity: 2}},
		PaymentMethod: "mobile_money",
		Total:         90000,
	})
	require.NoError(t, err)
	assert.Equal(t, "o9", o.ID)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, 90000.0, o.Total)

	require.NoError(t, c.ClearOrders(ctx))
	mu.Lock()
	assert.True(t, cleared)
	mu.Unlock()
}

func TestSignupEmail_StoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/users/signup/email", r.URL.Path)
		var in SignupInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in.Email == "taken@example.com" {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "Email already registered"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"token": "opaque-token",
			"user":  map[string]any{"id": "u1", "name": in.Name, "email": in.Email},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &sleepRecorder{})
	session := NewSession()

	res, err := c.SignupEmail(context.Background(), SignupInput{Name: "Amina", Email: "amina@example.com", Password: "secret"}, session)
	require.NoError(t, err)
	assert.Equal(t, "amina@example.com", res.User.Email)
	assert.Equal(t, "opaque-token", session.Token())

	other := NewSession()
	_, err = c.SignupEmail(context.Background(), SignupInput{Email: "taken@example.com"}, other)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.Equal(t, "Email already registered", UserMessage(err))
	assert.False(t, other.SignedIn())
}
