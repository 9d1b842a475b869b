package pos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt is the gateway's record of a completed counter sale.
type Receipt struct {
	ID             uuid.UUID       `json:"id"`
	SaleID         string          `json:"saleId,omitempty"`
	OrderID        string          `json:"orderId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	PaymentMethod  string          `json:"paymentMethod"`
	CustomerName   string          `json:"customerName,omitempty"`
	Lines          []Line          `json:"lines"`
	Currency       string          `json:"currency,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	Received       decimal.Decimal `json:"received"`
	Change         decimal.Decimal `json:"change"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NewReceipt builds an unsaved receipt from a sufficient quote.
func NewReceipt(idempotencyKey, paymentMethod, customer string, lines []Line, q Quote) (*Receipt, error) {
	if q.Received == nil {
		return nil, errors.New("pos: receipt requires the amount received")
	}
	if !q.Sufficient {
		return nil, ErrInsufficientPayment
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	return &Receipt{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		PaymentMethod:  paymentMethod,
		CustomerName:   customer,
		Lines:          append([]Line(nil), lines...),
		Currency:       q.Currency,
		Subtotal:       q.Subtotal,
		Tax:            q.Tax,
		Total:          q.Total,
		Received:       *q.Received,
		Change:         *q.Change,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
