package cart

import (
	"errors"
	"fmt"

	"github.com/utafrali/storefront-cart/internal/notify"
)

// Op names a cart mutation.
type Op string

const (
	OpAdd          Op = "add"
	OpRemove       Op = "remove"
	OpUpdateAmount Op = "update_amount"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindFailed covers lookup, decoding and persistence failures.
	KindFailed Kind = iota
	KindOutOfStock
	KindProductNotFound
)

func (k Kind) String() string {
	switch k {
	case KindOutOfStock:
		return "out_of_stock"
	case KindProductNotFound:
		return "product_not_found"
	default:
		return "failed"
	}
}

// Sentinels matched with errors.Is against an *Error.
var (
	ErrOutOfStock      = errors.New("requested amount exceeds stock")
	ErrProductNotFound = errors.New("product not in cart")
	ErrFailed          = errors.New("cart operation failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindOutOfStock:
		return ErrOutOfStock
	case KindProductNotFound:
		return ErrProductNotFound
	default:
		return ErrFailed
	}
}

// Error is returned by every failed Store operation. The cart is unchanged
// whenever an *Error is returned.
type Error struct {
	Op   Op
	Kind Kind
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cart %s: %v: %v", e.Op, e.Kind.sentinel(), e.Err)
	}
	return fmt.Sprintf("cart %s: %v", e.Op, e.Kind.sentinel())
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// Message returns the text shown to the shopper for this failure.
func (e *Error) Message() string {
	if e.Kind == KindOutOfStock {
		return notify.MsgOutOfStock
	}
	switch e.Op {
	case OpAdd:
		return notify.MsgAddFailed
	case OpRemove:
		return notify.MsgRemoveFailed
	default:
		return notify.MsgUpdateFailed
	}
}
