package basket

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Document is the JSON shape shared by local storage and the remote basket API.
type Document struct {
	ID    string         `json:"id" validate:"required"`
	Items []ItemDocument `json:"items" validate:"unique=ID,dive"`
}

type ItemDocument struct {
	ID           int64       `json:"id" validate:"required,gt=0"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Price        json.Number `json:"price" validate:"required,numeric"`
	PictureURL   string      `json:"pictureUrl"`
	ProductBrand string      `json:"productBrand"`
	ProductType  string      `json:"productType"`
	Quantity     int         `json:"quantity" validate:"min=1"`
}

// TotalsDocument is the wire form of Totals.
type TotalsDocument struct {
	Shipping json.Number `json:"shipping"`
	SubTotal json.Number `json:"subTotal"`
	Total    json.Number `json:"total"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// ToDocument converts a basket into its wire form. Items is never null.
func ToDocument(b *Basket) Document {
	doc := Document{ID: b.ID, Items: make([]ItemDocument, 0, len(b.Items))}
	for _, item := range b.Items {
		doc.Items = append(doc.Items, ItemDocument{
			ID:           item.ID,
			Name:         item.Name,
			Description:  item.Description,
			Price:        json.Number(item.Price.String()),
			PictureURL:   item.PictureURL,
			ProductBrand: item.ProductBrand,
			ProductType:  item.ProductType,
			Quantity:     item.Quantity,
		})
	}
	return doc
}

// FromDocument validates the document shape and converts it into a basket.
func FromDocument(doc Document) (*Basket, error) {
	if err := validate.Struct(doc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "basket document failed validation")
	}
	b := &Basket{ID: doc.ID, Items: make([]Item, 0, len(doc.Items))}
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.Price.String())
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, fmt.Sprintf("item %d has an invalid price", item.ID))
		}
		if price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeSerialization, fmt.Sprintf("item %d has a negative price", item.ID))
		}
		b.Items = append(b.Items, Item{
			ID:           item.ID,
			Name:         item.Name,
			Description:  item.Description,
			Price:        price,
			PictureURL:   item.PictureURL,
			ProductBrand: item.ProductBrand,
			ProductType:  item.ProductType,
			Quantity:     item.Quantity,
		})
	}
	return b, nil
}

// TotalsToDocument converts totals into their wire form.
func TotalsToDocument(t Totals) TotalsDocument {
	return TotalsDocument{
		Shipping: json.Number(t.Shipping.String()),
		SubTotal: json.Number(t.SubTotal.String()),
		Total:    json.Number(t.Total.String()),
	}
}

// Encode serializes a basket to its JSON document.
func Encode(b *Basket) ([]byte, error) {
	data, err := json.Marshal(ToDocument(b))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "encode basket")
	}
	return data, nil
}

// Decode parses and validates a JSON basket document.
func Decode(data []byte) (*Basket, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "decode basket")
	}
	return FromDocument(doc)
}
