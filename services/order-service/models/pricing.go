package models

// Pricing holds the fixed rates applied once at order creation.
type Pricing struct {
	TaxRateBPS            int64
	FreeShippingThreshold int64
	ShippingFee           int64
}

type Totals struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	Discount    int64
	Total       int64
}

// Compute derives totals from frozen line subtotals. Discount is clamped to
// the subtotal; tax is levied on the discounted amount and rounded half up.
func (p Pricing) Compute(items []OrderItem, discount int64) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal += it.Subtotal
	}
	if discount < 0 {
		discount = 0
	}
	if discount > t.Subtotal {
		discount = t.Subtotal
	}
	t.Discount = discount

	taxable := t.Subtotal - t.Discount
	t.Tax = (taxable*p.TaxRateBPS + 5000) / 10000

	if p.FreeShippingThreshold <= 0 || t.Subtotal < p.FreeShippingThreshold {
		t.ShippingFee = p.ShippingFee
	}
	t.Total = t.Subtotal - t.Discount + t.Tax + t.ShippingFee
	return t
}
