// Package pos computes point-of-sale and cart totals.
//
// All money is carried as decimal.Decimal. Values are rounded half-up to two
// places only when a Quote is built, never in intermediate sums.
package pos

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"kings-storefront/internal/domain"
)

// DefaultTaxRate is the 8.5% rate applied at the sales counter.
var DefaultTaxRate = decimal.RequireFromString("0.085")

// DefaultShippingFee is the flat fee added to customer-facing cart totals (UGX).
var DefaultShippingFee = decimal.NewFromInt(10000)

// DefaultCurrency labels quotes when no currency is configured.
const DefaultCurrency = "UGX"

// ErrInsufficientPayment is returned when the amount received does not cover the total.
var ErrInsufficientPayment = errors.New("pos: amount received is less than the total")

var validate = validator.New()

// Line is one priced cart line.
type Line struct {
	ProductID string          `json:"productId" validate:"required"`
	Title     string          `json:"title,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Size      string          `json:"size,omitempty"`
}

// Key identifies a line within a cart.
func (l Line) Key() string { return l.ProductID + ":" + l.Size }

// Validate checks a single line.
func (l Line) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("pos: invalid line %q: %w", l.ProductID, err)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("pos: invalid line %q: unit price must not be negative", l.ProductID)
	}
	return nil
}

// Amount returns unit price times quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinesFromCart converts backend cart items into priced lines.
func LinesFromCart(items []domain.CartItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		l := Line{
			ProductID: it.ProductID,
			UnitPrice: decimal.NewFromFloat(it.UnitPrice()),
			Quantity:  it.Quantity,
			Size:      it.Size,
		}
		if it.Product != nil {
			l.Title = it.Product.Title
		}
		lines = append(lines, l)
	}
	return lines
}

// Subtotal is the sum of unit_price × quantity over all lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

// Tax is subtotal × rate.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate)
}

// Change is max(0, received − total).
func Change(received, total decimal.Decimal) decimal.Decimal {
	c := received.Sub(total)
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}

// Pricing holds the parameters of a quote.
type Pricing struct {
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal // zero at the sales counter
	Currency    string
}

// CounterPricing is used for in-person sales: default tax, no shipping.
func CounterPricing() Pricing {
	return Pricing{TaxRate: DefaultTaxRate, ShippingFee: decimal.Zero, Currency: DefaultCurrency}
}

// CartPricing is used for the customer-facing cart: default tax plus the flat shipping fee.
func CartPricing() Pricing {
	return Pricing{TaxRate: DefaultTaxRate, ShippingFee: DefaultShippingFee, Currency: DefaultCurrency}
}

// Quote is the priced summary of a set of lines.
type Quote struct {
	Currency   string           `json:"currency,omitempty"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
	Tax        decimal.Decimal  `json:"tax"`
	Shipping   decimal.Decimal  `json:"shipping"`
	Total      decimal.Decimal  `json:"total"`
	Received   *decimal.Decimal `json:"received,omitempty"`
	Change     *decimal.Decimal `json:"change,omitempty"`
	Sufficient bool             `json:"sufficient"`
	ItemCount  int              `json:"itemCount"`
}

// Price validates lines and computes the quote. received may be nil when no
// payment has been tendered yet; Sufficient is then false.
func Price(lines []Line, p Pricing, received *decimal.Decimal) (Quote, error) {
	count := 0
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return Quote{}, err
		}
		count += l.Quantity
	}
	if p.TaxRate.IsNegative() {
		return Quote{}, fmt.Errorf("pos: tax rate must not be negative")
	}
	if p.ShippingFee.IsNegative() {
		return Quote{}, fmt.Errorf("pos: shipping fee must not be negative")
	}

	subtotal := Subtotal(lines)
	tax := Tax(subtotal, p.TaxRate)
	total := subtotal.Add(tax).Add(p.ShippingFee)

	q := Quote{
		Currency:  p.Currency,
		Subtotal:  subtotal.Round(2),
		Tax:       tax.Round(2),
		Shipping:  p.ShippingFee.Round(2),
		Total:     total.Round(2),
		ItemCount: count,
	}
	if received != nil {
		r := received.Round(2)
		ch := Change(r, q.Total)
		q.Received = &r
		q.Change = &ch
		q.Sufficient = r.GreaterThanOrEqual(q.Total)
	}
	return q, nil
}
