package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/api/validators"
	"github.com/angelmondragon/storefront/internal/basket"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	streamBuffer    = 16
	streamKeepAlive = 15 * time.Second
	// streamWriteTimeout bounds each event write so a stalled client drops
	// its stream instead of pinning the handler.
	streamWriteTimeout = 10 * time.Second
	maxTextLength   = 512
)

// BasketService is the basket surface the storefront front drives.
type BasketService interface {
	CurrentBasket(ctx context.Context) (*basket.Basket, bool)
	RequireBasket(ctx context.Context) (*basket.Basket, error)
	AddItem(ctx context.Context, product basket.Product, quantity int) (*basket.Basket, basket.Totals, error)
	IncrementItemQuantity(ctx context.Context, itemID int64, amount int) (*basket.Basket, error)
	DecrementItemQuantity(ctx context.Context, itemID int64, amount int) (*basket.Basket, error)
	RemoveItem(ctx context.Context, itemID int64) (*basket.Basket, error)
	Refresh(ctx context.Context) (*basket.Basket, error)
	Destroy(ctx context.Context, basketID string) error
	ComputeTotals(b *basket.Basket) basket.Totals
	Observable() *basket.Observable
}

type basketResponse struct {
	Basket *basket.Document       `json:"basket"`
	Totals *basket.TotalsDocument `json:"totals"`
}

func newBasketResponse(svc BasketService, b *basket.Basket) basketResponse {
	if b.IsEmpty() {
		return basketResponse{}
	}
	doc := basket.ToDocument(b)
	totals := basket.TotalsToDocument(svc.ComputeTotals(b))
	return basketResponse{Basket: &doc, Totals: &totals}
}

type productPayload struct {
	ID           int64       `json:"id" validate:"required,gt=0"`
	Name         string      `json:"name" validate:"required"`
	Description  string      `json:"description"`
	Price        json.Number `json:"price" validate:"required,numeric"`
	PictureURL   string      `json:"pictureUrl"`
	ProductBrand string      `json:"productBrand"`
	ProductType  string      `json:"productType"`
}

func (p productPayload) toProduct() (basket.Product, error) {
	price, err := decimal.NewFromString(p.Price.String())
	if err != nil {
		return basket.Product{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price")
	}
	if price.IsNegative() {
		return basket.Product{}, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative").
			WithDetails(map[string]string{"price": "must not be negative"})
	}
	return basket.Product{
		ID:           p.ID,
		Name:         validators.SanitizeString(p.Name, maxTextLength),
		Description:  validators.SanitizeString(p.Description, maxTextLength),
		Price:        price,
		PictureURL:   validators.SanitizeString(p.PictureURL, maxTextLength),
		ProductBrand: validators.SanitizeString(p.ProductBrand, maxTextLength),
		ProductType:  validators.SanitizeString(p.ProductType, maxTextLength),
	}, nil
}

type addItemRequest struct {
	Product  productPayload `json:"product"`
	Quantity *int           `json:"quantity" validate:"omitempty,min=1"`
}

type quantityRequest struct {
	Amount *int `json:"amount"`
}

func (q quantityRequest) amount() int {
	if q.Amount == nil {
		return 1
	}
	return *q.Amount
}

// BasketGet returns the current basket with totals, or the empty state.
func BasketGet(svc BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := svc.CurrentBasket(r.Context())
		responses.WriteSuccess(w, newBasketResponse(svc, b))
	}
}

// BasketAddItem adds a product to the basket, creating the basket on first use.
func BasketAddItem(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := payload.Product.toProduct()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quantity := 1
		if payload.Quantity != nil {
			quantity = *payload.Quantity
		}

		b, _, err := svc.AddItem(r.Context(), product, quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBasketResponse(svc, b))
	}
}

// BasketIncrementItem raises an item's quantity by amount (default 1).
func BasketIncrementItem(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return quantityHandler(logg, func(ctx context.Context, itemID int64, amount int) (*basket.Basket, error) {
		return svc.IncrementItemQuantity(ctx, itemID, amount)
	}, svc)
}

// BasketDecrementItem lowers an item's quantity by amount (default 1).
func BasketDecrementItem(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return quantityHandler(logg, func(ctx context.Context, itemID int64, amount int) (*basket.Basket, error) {
		return svc.DecrementItemQuantity(ctx, itemID, amount)
	}, svc)
}

func quantityHandler(logg *logger.Logger, apply func(context.Context, int64, int) (*basket.Basket, error), svc BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, err := validators.ParsePathID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload quantityRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		b, err := apply(r.Context(), itemID, payload.amount())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBasketResponse(svc, b))
	}
}

// BasketRemoveItem drops an item; removing the last one clears the basket.
func BasketRemoveItem(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, err := validators.ParsePathID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		b, err := svc.RemoveItem(r.Context(), itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBasketResponse(svc, b))
	}
}

// BasketRefresh pulls the remote copy of the basket.
func BasketRefresh(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.Refresh(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBasketResponse(svc, b))
	}
}

// BasketAbandon destroys the current basket locally and remotely.
func BasketAbandon(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.RequireBasket(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Destroy(r.Context(), b.ID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, basketResponse{})
	}
}

// BasketStream sends the current basket and then every change as server-sent
// events until the client disconnects.
func BasketStream(svc BasketService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		changes, unsubscribe := svc.Observable().Subscribe(streamBuffer)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		current, _ := svc.Observable().Current()
		if err := writeEvent(w, rc, newBasketResponse(svc, current)); err != nil {
			return
		}
		flusher.Flush()

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if err := extendWriteDeadline(rc); err != nil {
					return
				}
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case b, ok := <-changes:
				if !ok {
					return
				}
				if err := writeEvent(w, rc, newBasketResponse(svc, b)); err != nil {
					if logg != nil {
						logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "basket stream write failed")
					}
					return
				}
				flusher.Flush()
			}
		}
	}
}

// extendWriteDeadline pushes the connection write deadline forward. Writers
// without deadline support are left as they are.
func extendWriteDeadline(rc *http.ResponseController) error {
	err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, payload basketResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := extendWriteDeadline(rc); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: basket\ndata: %s\n\n", data)
	return err
}
