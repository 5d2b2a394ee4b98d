package basket

import "github.com/shopspring/decimal"

// Totals are derived from the live item sequence and never stored.
type Totals struct {
	Shipping decimal.Decimal
	SubTotal decimal.Decimal
	Total    decimal.Decimal
}

// CalculateTotals sums price x quantity over every item and adds the flat
// shipping charge.
func CalculateTotals(b *Basket, shipping decimal.Decimal) Totals {
	subTotal := decimal.Zero
	if b != nil {
		for _, item := range b.Items {
			subTotal = subTotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	return Totals{
		Shipping: shipping,
		SubTotal: subTotal,
		Total:    shipping.Add(subTotal),
	}
}
