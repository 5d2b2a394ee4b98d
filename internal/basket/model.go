package basket

import (
	"github.com/shopspring/decimal"
)

// Basket is the set of items a shopper intends to buy. A basket with no items
// is treated as non-existent and is never persisted.
type Basket struct {
	ID    string
	Items []Item
}

// Item snapshots a catalog product at the time it was added.
type Item struct {
	ID           int64
	Name         string
	Description  string
	Price        decimal.Decimal
	PictureURL   string
	ProductBrand string
	ProductType  string
	Quantity     int
}

// Product is the catalog entry a basket item is created from.
type Product struct {
	ID           int64
	Name         string
	Description  string
	Price        decimal.Decimal
	PictureURL   string
	ProductBrand string
	ProductType  string
}

// IsEmpty reports whether the basket is absent or holds no items.
func (b *Basket) IsEmpty() bool {
	return b == nil || len(b.Items) == 0
}

// Clone returns a deep copy.
func (b *Basket) Clone() *Basket {
	if b == nil {
		return nil
	}
	out := &Basket{ID: b.ID}
	if b.Items != nil {
		out.Items = make([]Item, len(b.Items))
		copy(out.Items, b.Items)
	}
	return out
}

// Item returns the item with the given product id.
func (b *Basket) Item(itemID int64) (Item, bool) {
	if idx := b.indexOf(itemID); idx >= 0 {
		return b.Items[idx], true
	}
	return Item{}, false
}

func (b *Basket) indexOf(itemID int64) int {
	if b == nil {
		return -1
	}
	for i := range b.Items {
		if b.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// upsert merges quantity into the item with the same product id, or appends
// the snapshot with that quantity. A merge that would overflow is rejected
// and leaves the basket untouched.
func (b *Basket) upsert(item Item, quantity int) error {
	if idx := b.indexOf(item.ID); idx >= 0 {
		next, ok := addQuantity(b.Items[idx].Quantity, quantity)
		if !ok {
			return validationError("quantity out of range")
		}
		b.Items[idx].Quantity = next
		return nil
	}
	item.Quantity = quantity
	b.Items = append(b.Items, item)
	return nil
}

// addQuantity adds delta to q, reporting false when the sum leaves the int
// range.
func addQuantity(q, delta int) (int, bool) {
	sum := q + delta
	if (delta > 0 && sum < q) || (delta < 0 && sum > q) {
		return 0, false
	}
	return sum, true
}

func (b *Basket) remove(itemID int64) bool {
	idx := b.indexOf(itemID)
	if idx < 0 {
		return false
	}
	b.Items = append(b.Items[:idx], b.Items[idx+1:]...)
	return true
}

func itemFromProduct(p Product) Item {
	return Item{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price,
		PictureURL:   p.PictureURL,
		ProductBrand: p.ProductBrand,
		ProductType:  p.ProductType,
		Quantity:     0,
	}
}
