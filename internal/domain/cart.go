package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CartItem is one line of a customer cart or an order.
type CartItem struct {
	ID        string    `json:"id,omitempty"` // backend line id used by /api/cart/item/:id
	ProductID string    `json:"productId"`
	Product   *Product  `json:"product,omitempty"` // inlined snapshot, when the backend sends one
	Quantity  int       `json:"quantity"`
	Size      string    `json:"size,omitempty"`
	Price     float64   `json:"price,omitempty"`
	AddedAt   time.Time `json:"addedAt,omitempty"`
}

// Key is the identity of the line: addedAt when present, else productId:size.
func (c CartItem) Key() string {
	if !c.AddedAt.IsZero() {
		return c.AddedAt.UTC().Format(time.RFC3339Nano)
	}
	return c.ProductID + ":" + c.Size
}

// EntityID implements reconcile.Entity.
func (c CartItem) EntityID() string { return c.Key() }

// UnitPrice prefers the line price, falling back to the product snapshot.
func (c CartItem) UnitPrice() float64 {
	if c.Price != 0 || c.Product == nil {
		return c.Price
	}
	return c.Product.Price
}

type cartItemWire struct {
	ID        string          `json:"id"`
	MongoID   string          `json:"_id"`
	ProductID string          `json:"productId"`
	Product   json.RawMessage `json:"product"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size"`
	Price     Amount          `json:"price"`
	AddedAt   time.Time       `json:"addedAt"`
}

// UnmarshalJSON accepts "product" as either a product id or an inlined product.
func (c *CartItem) UnmarshalJSON(data []byte) error {
	var w cartItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain: decoding cart item: %w", err)
	}
	*c = CartItem{
		ID:        firstNonEmpty(w.ID, w.MongoID),
		ProductID: w.ProductID,
		Quantity:  w.Quantity,
		Size:      w.Size,
		Price:     float64(w.Price),
		AddedAt:   w.AddedAt,
	}
	if len(w.Product) > 0 && string(w.Product) != "null" {
		var id string
		if err := json.Unmarshal(w.Product, &id); err == nil {
			c.ProductID = firstNonEmpty(c.ProductID, id)
		} else {
			var p Product
			if err := json.Unmarshal(w.Product, &p); err != nil {
				return err
			}
			c.Product = &p
			c.ProductID = firstNonEmpty(c.ProductID, p.ID)
		}
	}
	return nil
}

// Cart is the server-side cart of the signed-in customer.
type Cart struct {
	Items []CartItem `json:"items"`
}
