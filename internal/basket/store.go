package basket

import (
	"context"
	"io"
	"time"

	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const maxAcquireAttempts = 3

// Remote is the basket API the store keeps in sync with.
type Remote interface {
	Current(ctx context.Context) (*Basket, error)
	Get(ctx context.Context, id string) (*Basket, error)
	Save(ctx context.Context, b *Basket) (*Basket, error)
	Delete(ctx context.Context, id string) error
}

// StoreParams wires the store dependencies.
type StoreParams struct {
	Repository *Repository
	Remote     Remote
	Logger     *logger.Logger
	Metrics    *metrics.BasketMetrics
	Shipping   decimal.Decimal
	NewID      func() string
}

// Store mediates between the local copy, the remote copy and the observable
// projection of the basket. Every read-modify-write runs under the lock of the
// basket it touches, and the local copy is only written after the remote
// call succeeds.
type Store struct {
	repo       *Repository
	remote     Remote
	logg       *logger.Logger
	metrics    *metrics.BasketMetrics
	shipping   decimal.Decimal
	newID      func() string
	locks      *keyedMutex
	creating   singleflight.Group
	observable *Observable
}

// NewStore constructs a Store. The observable projection starts from the
// locally persisted basket.
func NewStore(ctx context.Context, params StoreParams) (*Store, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "basket repository is required")
	}
	if params.Remote == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "remote basket client is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.New(logger.Options{ServiceName: "basket", Output: io.Discard})
	}
	newID := params.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	s := &Store{
		repo:       params.Repository,
		remote:     params.Remote,
		logg:       logg,
		metrics:    params.Metrics,
		shipping:   params.Shipping,
		newID:      newID,
		locks:      newKeyedMutex(),
		observable: newObservable(),
	}
	if b, ok := s.CurrentBasket(ctx); ok {
		s.observable.publish(b)
	}
	return s, nil
}

// Observable exposes the read-only projection.
func (s *Store) Observable() *Observable {
	return s.observable
}

// Close stops the observable fan-out.
func (s *Store) Close() error {
	return s.observable.Close()
}

// CurrentBasket reads the locally persisted basket. Unreadable or malformed
// content is reported as absent.
func (s *Store) CurrentBasket(ctx context.Context) (*Basket, bool) {
	b, err := s.repo.Load(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stored basket unreadable, treating as absent")
		return nil, false
	}
	if b == nil {
		return nil, false
	}
	return b, true
}

// RequireBasket is the strict form of CurrentBasket.
func (s *Store) RequireBasket(ctx context.Context) (*Basket, error) {
	b, ok := s.CurrentBasket(ctx)
	if !ok {
		return nil, ErrNotFound()
	}
	return b, nil
}

// EnsureBasket returns the current basket, creating and recording a new
// identifier when none exists. Concurrent callers share a single creation.
func (s *Store) EnsureBasket(ctx context.Context) (b *Basket, err error) {
	defer s.observe(OpEnsure, time.Now(), &err)
	b, err = s.ensureShared(ctx)
	if err != nil {
		return nil, operationError(OpEnsure, "", err)
	}
	return b, nil
}

func (s *Store) ensureShared(ctx context.Context) (*Basket, error) {
	// the flight is shared, so one caller's cancellation must not fail the rest
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.creating.Do("ensure", func() (any, error) {
		return s.ensure(shared)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Basket).Clone(), nil
}

func (s *Store) ensure(ctx context.Context) (*Basket, error) {
	if b, ok := s.CurrentBasket(ctx); ok {
		return b, nil
	}
	id, ok, err := s.repo.LoadID(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Basket{ID: id}, nil
	}
	id = s.newID()
	if err := s.repo.SaveID(ctx, id); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithBasketID(ctx, id), "basket created")
	return &Basket{ID: id}, nil
}

// AddItem snapshots the product into the basket, merging with an existing
// line for the same product, and returns the updated basket with its totals.
func (s *Store) AddItem(ctx context.Context, product Product, quantity int) (b *Basket, totals Totals, err error) {
	defer s.observe(OpAddItem, time.Now(), &err)
	if quantity < 1 {
		return nil, Totals{}, validationError("quantity must be at least 1")
	}
	if product.ID <= 0 {
		return nil, Totals{}, validationError("product id must be positive")
	}
	if product.Price.IsNegative() {
		return nil, Totals{}, validationError("product price must not be negative")
	}

	id, unlock, err := s.acquire(ctx, true)
	if err != nil {
		return nil, Totals{}, operationError(OpAddItem, "", err)
	}
	defer unlock()

	b = s.loadOrEmpty(ctx, id)
	if err := b.upsert(itemFromProduct(product), quantity); err != nil {
		return nil, Totals{}, err
	}
	if err := s.persist(ctx, OpAddItem, b); err != nil {
		return nil, Totals{}, err
	}
	return b.Clone(), s.ComputeTotals(b), nil
}

// IncrementItemQuantity adds amount to the item's quantity, never letting it
// fall below 1. A missing basket or item leaves everything untouched and
// yields the current basket (nil when absent). A sum outside the int range is
// a validation error.
func (s *Store) IncrementItemQuantity(ctx context.Context, itemID int64, amount int) (b *Basket, err error) {
	defer s.observe(OpIncrement, time.Now(), &err)
	return s.mutateItem(ctx, OpIncrement, itemID, func(item *Item) (bool, error) {
		next, ok := addQuantity(item.Quantity, amount)
		if !ok {
			return false, validationError("quantity out of range")
		}
		if next < 1 {
			next = 1
		}
		changed := next != item.Quantity
		item.Quantity = next
		return changed, nil
	})
}

// DecrementItemQuantity lowers the quantity of an item holding more than one
// unit, flooring at 1. It never removes the item.
func (s *Store) DecrementItemQuantity(ctx context.Context, itemID int64, amount int) (b *Basket, err error) {
	defer s.observe(OpDecrement, time.Now(), &err)
	if amount < 1 {
		return nil, validationError("amount must be at least 1")
	}
	return s.mutateItem(ctx, OpDecrement, itemID, func(item *Item) (bool, error) {
		if item.Quantity <= 1 {
			return false, nil
		}
		next := item.Quantity - amount
		if next < 1 {
			next = 1
		}
		item.Quantity = next
		return true, nil
	})
}

func (s *Store) mutateItem(ctx context.Context, op string, itemID int64, fn func(*Item) (bool, error)) (*Basket, error) {
	id, unlock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, operationError(op, "", err)
	}
	if id == "" {
		return nil, nil
	}
	defer unlock()

	b, ok := s.CurrentBasket(ctx)
	if !ok || b.ID != id {
		return nil, nil
	}
	idx := b.indexOf(itemID)
	if idx < 0 {
		return b, nil
	}
	changed, err := fn(&b.Items[idx])
	if err != nil {
		return nil, err
	}
	if !changed {
		return b, nil
	}
	if err := s.persist(ctx, op, b); err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// RemoveItem drops the item if present. Removing the last item destroys the
// basket instead of storing an empty one, and nil is returned.
func (s *Store) RemoveItem(ctx context.Context, itemID int64) (b *Basket, err error) {
	defer s.observe(OpRemove, time.Now(), &err)
	id, unlock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, operationError(OpRemove, "", err)
	}
	if id == "" {
		return nil, nil
	}
	defer unlock()

	b, ok := s.CurrentBasket(ctx)
	if !ok || b.ID != id {
		return nil, nil
	}
	if !b.remove(itemID) {
		return b, nil
	}
	if b.IsEmpty() {
		if err := s.destroy(ctx, OpRemove, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := s.persist(ctx, OpRemove, b); err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// ComputeTotals prices the basket with the configured shipping charge.
func (s *Store) ComputeTotals(b *Basket) Totals {
	return CalculateTotals(b, s.shipping)
}

// Persist saves the basket remotely, then locally, then publishes it.
// Empty baskets are rejected; use Destroy instead. The basket must be the one
// occupying the local slot, or the slot must be empty.
func (s *Store) Persist(ctx context.Context, b *Basket) (err error) {
	defer s.observe(OpPersist, time.Now(), &err)
	if b.IsEmpty() {
		return validationError("empty basket cannot be persisted")
	}
	if b.ID == "" {
		return validationError("basket id is required")
	}
	unlock := s.locks.Lock(b.ID)
	defer unlock()

	current, ok, err := s.currentID(ctx)
	if err != nil {
		return operationError(OpPersist, b.ID, err)
	}
	if ok && current != b.ID {
		return validationError("basket is not the current basket").
			WithDetails(map[string]string{"basket_id": b.ID, "current_basket_id": current})
	}
	return s.persist(ctx, OpPersist, b.Clone())
}

func (s *Store) persist(ctx context.Context, op string, b *Basket) error {
	ctx = s.logg.WithOperation(s.logg.WithBasketID(ctx, b.ID), op)
	if _, err := s.remote.Save(ctx, b); err != nil {
		s.logg.Error(ctx, "remote basket sync failed", err)
		return operationError(op, b.ID, err)
	}
	if err := s.repo.Save(ctx, b); err != nil {
		s.logg.Error(ctx, "local basket write failed", err)
		return operationError(op, b.ID, err)
	}
	s.observable.publish(b)
	s.logg.Info(ctx, "basket persisted")
	return nil
}

// Destroy deletes the basket remotely and, when it is the local basket,
// removes both local keys and publishes its absence.
func (s *Store) Destroy(ctx context.Context, basketID string) (err error) {
	defer s.observe(OpDestroy, time.Now(), &err)
	if basketID == "" {
		return validationError("basket id is required")
	}
	unlock := s.locks.Lock(basketID)
	defer unlock()
	return s.destroy(ctx, OpDestroy, basketID)
}

func (s *Store) destroy(ctx context.Context, op, basketID string) error {
	ctx = s.logg.WithOperation(s.logg.WithBasketID(ctx, basketID), op)
	if err := s.remote.Delete(ctx, basketID); err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		s.logg.Error(ctx, "remote basket delete failed", err)
		return operationError(op, basketID, err)
	}
	current, ok, err := s.currentID(ctx)
	if err != nil {
		return operationError(op, basketID, err)
	}
	if !ok || current != basketID {
		return nil
	}
	if err := s.clearLocal(ctx); err != nil {
		return operationError(op, basketID, err)
	}
	s.logg.Info(ctx, "basket destroyed")
	return nil
}

// Refresh pulls the remote copy into local storage and the observable store.
// Without a local basket the session basket is adopted. A basket the remote
// no longer has, or one it reports empty, is removed locally.
func (s *Store) Refresh(ctx context.Context) (b *Basket, err error) {
	defer s.observe(OpRefresh, time.Now(), &err)
	id, unlock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, operationError(OpRefresh, "", err)
	}
	if id == "" {
		return s.adoptRemote(ctx)
	}
	defer unlock()

	ctx = s.logg.WithOperation(s.logg.WithBasketID(ctx, id), OpRefresh)
	remote, err := s.remote.Get(ctx, id)
	switch {
	case pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err == nil && remote.IsEmpty():
		if err := s.clearLocal(ctx); err != nil {
			return nil, operationError(OpRefresh, id, err)
		}
		s.logg.Info(ctx, "remote basket gone, local copy removed")
		return nil, nil
	case err != nil:
		return nil, operationError(OpRefresh, id, err)
	}
	if err := s.repo.Save(ctx, remote); err != nil {
		return nil, operationError(OpRefresh, id, err)
	}
	s.observable.publish(remote)
	return remote.Clone(), nil
}

func (s *Store) adoptRemote(ctx context.Context) (*Basket, error) {
	remote, err := s.remote.Current(ctx)
	if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, operationError(OpRefresh, "", err)
	}
	if remote.IsEmpty() {
		return nil, nil
	}

	unlock := s.locks.Lock(remote.ID)
	defer unlock()
	if current, ok := s.CurrentBasket(ctx); ok {
		return current, nil
	}
	if err := s.repo.Save(ctx, remote); err != nil {
		return nil, operationError(OpRefresh, remote.ID, err)
	}
	s.observable.publish(remote)
	s.logg.Info(s.logg.WithBasketID(ctx, remote.ID), "session basket adopted")
	return remote.Clone(), nil
}

func (s *Store) clearLocal(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	s.observable.publish(nil)
	return nil
}

// currentID resolves the basket occupying the local slot: the content's id,
// or the bare identifier record when no content is stored.
func (s *Store) currentID(ctx context.Context) (string, bool, error) {
	if b, ok := s.CurrentBasket(ctx); ok {
		return b.ID, true, nil
	}
	return s.repo.LoadID(ctx)
}

// acquire locks the basket occupying the local slot and returns its id. With
// create set a basket is created when the slot is empty; otherwise an empty
// slot yields "" and no lock. The slot is re-read under the lock because a
// concurrent removal may have replaced it.
func (s *Store) acquire(ctx context.Context, create bool) (string, func(), error) {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		var id string
		if create {
			b, err := s.ensureShared(ctx)
			if err != nil {
				return "", nil, err
			}
			id = b.ID
		} else {
			current, ok, err := s.currentID(ctx)
			if err != nil {
				return "", nil, err
			}
			if !ok {
				return "", nil, nil
			}
			id = current
		}

		unlock := s.locks.Lock(id)
		current, ok, err := s.currentID(ctx)
		if err != nil {
			unlock()
			return "", nil, err
		}
		if ok && current == id {
			return id, unlock, nil
		}
		unlock()
		if !ok && !create {
			return "", nil, nil
		}
	}
	return "", nil, pkgerrors.New(pkgerrors.CodeInternal, "basket changed concurrently")
}

func (s *Store) loadOrEmpty(ctx context.Context, id string) *Basket {
	if b, ok := s.CurrentBasket(ctx); ok && b.ID == id {
		return b
	}
	return &Basket{ID: id}
}

func (s *Store) observe(op string, start time.Time, err *error) {
	s.metrics.Observe(op, time.Since(start), *err)
}
