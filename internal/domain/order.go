package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the status string the backend reports for an order.
// Transitions are enforced server-side; the gateway only displays them.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusApproved   OrderStatus = "approved"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRejected   OrderStatus = "rejected"
)

// OrderSteps is the happy-path progression rendered as a stepper.
var OrderSteps = []OrderStatus{StatusPending, StatusApproved, StatusProcessing, StatusShipped, StatusDelivered}

// ParseOrderStatus normalizes a backend status string. Unknown values are an error.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if st == "canceled" {
		st = StatusCancelled
	}
	if !st.Valid() {
		return "", fmt.Errorf("domain: unknown order status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusProcessing, StatusShipped, StatusDelivered,
		StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further progression is expected.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRejected
}

// Step returns the stepper index of s, or -1 for cancelled, rejected and unknown.
func (s OrderStatus) Step() int {
	for i, step := range OrderSteps {
		if step == s {
			return i
		}
	}
	return -1
}

// CustomerRef identifies the customer an order belongs to.
type CustomerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Order is a server-owned order mirrored for display.
type Order struct {
	ID            string      `json:"id"`
	Customer      CustomerRef `json:"customer"`
	Items         []CartItem  `json:"items"`
	Status        OrderStatus `json:"status"`
	Total         float64     `json:"total"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// EntityID implements reconcile.Entity.
func (o Order) EntityID() string { return o.ID }

type orderWire struct {
	ID            string          `json:"id"`
	MongoID       string          `json:"_id"`
	OrderID       string          `json:"orderId"`
	Customer      json.RawMessage `json:"customer"`
	User          json.RawMessage `json:"user"`
	Items         []CartItem      `json:"items"`
	Status        string          `json:"status"`
	Total         Amount          `json:"total"`
	TotalAmount   Amount          `json:"totalAmount"`
	PaymentMethod string          `json:"paymentMethod"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// UnmarshalJSON decodes an order, accepting "id", "_id" or "orderId" and a
// customer given as either an id or an object under "customer" or "user".
// Unknown status strings are kept verbatim so they can still be shown.
func (o *Order) UnmarshalJSON(data []byte) error {
	var w orderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain: decoding order: %w", err)
	}
	*o = Order{
		ID:            firstNonEmpty(w.ID, w.MongoID, w.OrderID),
		Items:         w.Items,
		Status:        OrderStatus(strings.ToLower(w.Status)),
		Total:         float64(w.Total),
		PaymentMethod: w.PaymentMethod,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
	if o.Total == 0 {
		o.Total = float64(w.TotalAmount)
	}
	if st, err := ParseOrderStatus(w.Status); err == nil {
		o.Status = st
	}
	raw := w.Customer
	if len(raw) == 0 || string(raw) == "null" {
		raw = w.User
	}
	if len(raw) > 0 && string(raw) != "null" {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			o.Customer.ID = id
		} else {
			var u struct {
				ID      string `json:"id"`
				MongoID string `json:"_id"`
				Name    string `json:"name"`
				Email   string `json:"email"`
			}
			if err := json.Unmarshal(raw, &u); err != nil {
				return fmt.Errorf("domain: decoding order customer: %w", err)
			}
			o.Customer = CustomerRef{ID: firstNonEmpty(u.ID, u.MongoID), Name: u.Name, Email: u.Email}
		}
	}
	return nil
}
