package pos

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Cart is an in-memory cart for a checkout in progress. Lines are keyed by
// product and size; insertion order is kept.
type Cart struct {
	mu    sync.Mutex
	lines []Line
}

// NewCart returns an empty cart.
func NewCart() *Cart { return &Cart{} }

// Add puts l into the cart, merging quantities with an existing line of the same key.
func (c *Cart) Add(l Line) error {
	if err := l.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].Key() == l.Key() {
			c.lines[i].Quantity += l.Quantity
			c.lines[i].UnitPrice = l.UnitPrice
			return nil
		}
	}
	c.lines = append(c.lines, l)
	return nil
}

// SetQuantity changes the quantity of the line with key. A quantity of zero
// or less removes the line. It reports whether the line existed.
func (c *Cart) SetQuantity(key string, qty int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].Key() != key {
			continue
		}
		if qty <= 0 {
			c.lines = append(c.lines[:i:i], c.lines[i+1:]...)
		} else {
			c.lines[i].Quantity = qty
		}
		return true
	}
	return false
}

// Remove drops the line with key.
func (c *Cart) Remove(key string) bool {
	return c.SetQuantity(key, 0)
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Subtotal of the current lines.
func (c *Cart) Subtotal() decimal.Decimal {
	return Subtotal(c.Lines())
}

// Quote prices the current lines.
func (c *Cart) Quote(p Pricing, received *decimal.Decimal) (Quote, error) {
	return Price(c.Lines(), p, received)
}
