package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"posledger/internal/lock"
	"posledger/internal/store"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrExcessiveReturn     = errors.New("return quantity exceeds remaining quantity")
	ErrNoItemsSelected     = errors.New("no items selected")
	ErrSaleAlreadyReturned = errors.New("sale already fully returned")
	ErrProductDeleted      = errors.New("product is deleted")
)

type InsufficientStockError struct {
	ProductID string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %s, available %s", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InsufficientPaymentError struct {
	Required decimal.Decimal
	Provided decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: required %s, provided %s", e.Required.StringFixed(2), e.Provided.StringFixed(2))
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

type ExcessiveReturnError struct {
	SaleItemID string
	Requested  decimal.Decimal
	Remaining  decimal.Decimal
}

func (e *ExcessiveReturnError) Error() string {
	return fmt.Sprintf("return of sale item %s: requested %s, remaining %s", e.SaleItemID, e.Requested, e.Remaining)
}

func (e *ExcessiveReturnError) Unwrap() error { return ErrExcessiveReturn }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// LockTimeoutError is transient; the caller may retry the operation.
type LockTimeoutError struct {
	Keys []string
	Err  error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for lock on %s", strings.Join(e.Keys, ","))
}

func (e *LockTimeoutError) Unwrap() error { return e.Err }

func (e *LockTimeoutError) Retryable() bool { return true }

// PersistenceError wraps a storage failure surfaced as-is to the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// isDomainError reports whether err is already part of the taxonomy and
// must reach the caller unchanged.
func isDomainError(err error) bool {
	var (
		stockErr   *InsufficientStockError
		paymentErr *InsufficientPaymentError
		returnErr  *ExcessiveReturnError
		notFound   *NotFoundError
		lockErr    *LockTimeoutError
		persistErr *PersistenceError
	)
	switch {
	case errors.As(err, &stockErr), errors.As(err, &paymentErr), errors.As(err, &returnErr),
		errors.As(err, &notFound), errors.As(err, &lockErr), errors.As(err, &persistErr):
		return true
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoItemsSelected),
		errors.Is(err, ErrSaleAlreadyReturned), errors.Is(err, ErrProductDeleted),
		errors.Is(err, store.ErrDuplicateBarcode):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func classify(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func acquire(ctx context.Context, locker lock.Locker, keys ...string) (func(), error) {
	unlock, err := locker.Lock(ctx, keys...)
	if err == nil {
		return unlock, nil
	}
	if errors.Is(err, lock.ErrTimeout) {
		return nil, &LockTimeoutError{Keys: keys, Err: err}
	}
	return nil, classify("lock", err)
}
