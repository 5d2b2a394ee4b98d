package basket

import (
	"context"

	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

// KV is the persistence surface the local repository writes through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Repository stores the local basket copy under two keys: the identifier
// record and the serialized content.
type Repository struct {
	kv        KV
	idKey     string
	basketKey string
}

// NewRepository scopes the repository keys to namespace.
func NewRepository(kv KV, namespace string) *Repository {
	return &Repository{
		kv:        kv,
		idKey:     namespace + ":basket_id",
		basketKey: namespace + ":basket",
	}
}

// LoadID returns the stored basket identifier, if any.
func (r *Repository) LoadID(ctx context.Context) (string, bool, error) {
	id, ok, err := r.kv.Get(ctx, r.idKey)
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read basket id")
	}
	if !ok || id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// Load returns the stored basket. Absent or empty content yields nil; content
// that fails to parse or validate yields a serialization error.
func (r *Repository) Load(ctx context.Context) (*Basket, error) {
	raw, ok, err := r.kv.Get(ctx, r.basketKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read basket")
	}
	if !ok {
		return nil, nil
	}
	b, err := Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if b.IsEmpty() {
		return nil, nil
	}
	return b, nil
}

// SaveID writes only the identifier record.
func (r *Repository) SaveID(ctx context.Context, id string) error {
	if err := r.kv.SetMany(ctx, map[string]string{r.idKey: id}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write basket id")
	}
	return nil
}

// Save writes the identifier and the content together.
func (r *Repository) Save(ctx context.Context, b *Basket) error {
	if b.IsEmpty() {
		return validationError("empty basket cannot be stored")
	}
	data, err := Encode(b)
	if err != nil {
		return err
	}
	if err := r.kv.SetMany(ctx, map[string]string{
		r.idKey:     b.ID,
		r.basketKey: string(data),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write basket")
	}
	return nil
}

// Clear removes both keys.
func (r *Repository) Clear(ctx context.Context) error {
	if err := r.kv.Delete(ctx, r.idKey, r.basketKey); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear basket")
	}
	return nil
}
