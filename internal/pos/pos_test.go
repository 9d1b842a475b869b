package pos

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func sampleLines() []Line {
	return []Line{
		{ProductID: "p1", UnitPrice: d(10000), Quantity: 2},
		{ProductID: "p2", UnitPrice: d(5000), Quantity: 1},
	}
}

func TestArithmetic(t *testing.T) {
	subtotal := Subtotal(sampleLines())
	assert.True(t, subtotal.Equal(d(25000)), "subtotal = %s", subtotal)

	tax := Tax(subtotal, DefaultTaxRate)
	assert.True(t, tax.Equal(d(2125)), "tax = %s", tax)

	total := subtotal.Add(tax)
	assert.True(t, total.Equal(d(27125)), "total = %s", total)

	assert.True(t, Change(d(30000), total).Equal(d(2875)))
	assert.True(t, Change(d(20000), total).Equal(decimal.Zero), "change is never negative")
}

func TestPrice_Counter(t *testing.T) {
	received := d(30000)
	q, err := Price(sampleLines(), CounterPricing(), &received)
	require.NoError(t, err)

	assert.True(t, q.Total.Equal(d(27125)))
	assert.True(t, q.Shipping.IsZero())
	require.NotNil(t, q.Change)
	assert.True(t, q.Change.Equal(d(2875)))
	assert.True(t, q.Sufficient)
	assert.Equal(t, 3, q.ItemCount)
}

func TestPrice_CartAddsShipping(t *testing.T) {
	q, err := Price(sampleLines(), CartPricing(), nil)
	require.NoError(t, err)

	assert.True(t, q.Total.Equal(d(37125)), "total = %s", q.Total)
	assert.Nil(t, q.Change)
	assert.False(t, q.Sufficient)
}

func TestPrice_InsufficientPayment(t *testing.T) {
	received := d(20000)
	q, err := Price(sampleLines(), CounterPricing(), &received)
	require.NoError(t, err)
	assert.False(t, q.Sufficient)
	assert.True(t, q.Change.IsZero())
}

func TestPrice_RoundsAtQuoteBoundary(t *testing.T) {
	lines := []Line{{ProductID: "p1", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 3}}
	q, err := Price(lines, CounterPricing(), nil)
	require.NoError(t, err)

	// 59.97 * 0.085 = 5.09745
	assert.Equal(t, "5.1", q.Tax.String())
	assert.Equal(t, "65.07", q.Total.String())
}

func TestPrice_RejectsInvalidLines(t *testing.T) {
	_, err := Price([]Line{{ProductID: "p1", UnitPrice: d(100), Quantity: 0}}, CounterPricing(), nil)
	assert.Error(t, err)

	_, err = Price([]Line{{ProductID: "p1", UnitPrice: d(-1), Quantity: 1}}, CounterPricing(), nil)
	assert.Error(t, err)

	_, err = Price([]Line{{UnitPrice: d(1), Quantity: 1}}, CounterPricing(), nil)
	assert.Error(t, err)
}

func TestPrice_RejectsNegativePricing(t *testing.T) {
	p := CartPricing()
	p.ShippingFee = d(-500)
	_, err := Price(sampleLines(), p, nil)
	assert.Error(t, err)

	p = CounterPricing()
	p.TaxRate = decimal.RequireFromString("-0.01")
	_, err = Price(sampleLines(), p, nil)
	assert.Error(t, err)
}

func TestPrice_CarriesCurrency(t *testing.T) {
	received := d(30000)
	p := CounterPricing()
	p.Currency = "KES"
	q, err := Price(sampleLines(), p, &received)
	require.NoError(t, err)
	assert.Equal(t, "KES", q.Currency)

	r, err := NewReceipt("key-9", "cash", "", sampleLines(), q)
	require.NoError(t, err)
	assert.Equal(t, "KES", r.Currency)
}

func TestPrice_EmptyCart(t *testing.T) {
	q, err := Price(nil, CounterPricing(), nil)
	require.NoError(t, err)
	assert.True(t, q.Total.IsZero())
}

func TestCart_Scenario(t *testing.T) {
	c := NewCart()
	require.NoError(t, c.Add(Line{ProductID: "p1", UnitPrice: d(10000), Quantity: 1, Size: "M"}))
	require.NoError(t, c.Add(Line{ProductID: "p1", UnitPrice: d(10000), Quantity: 1, Size: "M"}))
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, 2, c.Lines()[0].Quantity)

	assert.True(t, c.SetQuantity("p1:M", 3))
	assert.True(t, c.Subtotal().Equal(d(30000)))

	assert.True(t, c.Remove("p1:M"))
	assert.Empty(t, c.Lines())

	require.NoError(t, c.Add(Line{ProductID: "p2", UnitPrice: d(5000), Quantity: 1}))
	c.Clear()
	assert.Empty(t, c.Lines())
	assert.True(t, c.Subtotal().IsZero())
}
