package basket

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

const (
	OpEnsure    = "ensure_basket"
	OpAddItem   = "add_item"
	OpIncrement = "increment_item"
	OpDecrement = "decrement_item"
	OpRemove    = "remove_item"
	OpPersist   = "persist"
	OpDestroy   = "destroy"
	OpRefresh   = "refresh"
)

// ErrNotFound is returned by strict reads when no basket exists.
func ErrNotFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "basket not found")
}

// operationError keeps the code of the underlying failure and records which
// operation on which basket failed.
func operationError(op, basketID string, err error) error {
	if err == nil {
		return nil
	}
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	return pkgerrors.Wrap(code, err, fmt.Sprintf("%s failed", op)).WithDetails(map[string]any{
		"operation": op,
		"basket_id": basketID,
	})
}

func validationError(message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, message)
}
