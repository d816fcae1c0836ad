package orders

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrWouldUnderflow    = errors.New("stock would underflow")
	ErrStorage           = errors.New("storage failure")
)

type storageError struct {
	op    string
	cause error
}

func (e *storageError) Error() string        { return "storage: " + e.op + ": " + e.cause.Error() }
func (e *storageError) Unwrap() error        { return e.cause }
func (e *storageError) Is(target error) bool { return target == ErrStorage }

// Storage marks err as a storage failure of op. Domain errors pass through untouched
// so callers keep seeing NotFound/WouldUnderflow from the store.
func Storage(err error, op string) error {
	if err == nil || isDomain(err) {
		return err
	}
	return &storageError{op: op, cause: errors.WithStack(err)}
}

func isDomain(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInsufficientStock, ErrInvalidQuantity,
		ErrEmptyCart, ErrInvalidStatus, ErrWouldUnderflow, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
