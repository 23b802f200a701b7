package orders

import "errors"

var (
	// ErrNotFound indicates a referenced profile, address, product or order does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOutOfStock indicates a product is explicitly flagged as not in stock.
	ErrOutOfStock = errors.New("product is not in stock")
	// ErrInvalidQuantity indicates a buy-now quantity outside the accepted range.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidPage indicates a page number below 1.
	ErrInvalidPage = errors.New("page must be at least 1")
	// ErrNotAuthorized indicates the actor has no relationship to the resource.
	ErrNotAuthorized = errors.New("you are not allowed to change this order")
	// ErrInvalidStatus indicates a status ordinal outside the enumeration.
	ErrInvalidStatus = errors.New("no such status was found")
	// ErrOrderTerminal indicates the order already reached a final status.
	ErrOrderTerminal = errors.New("order is in a final status")
	// ErrIllegalTransition indicates the requested status change is not allowed for the actor.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrEmptyCart indicates checkout was attempted without cart lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrStatusConflict indicates the order status changed between read and write.
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrCartChanged indicates cart lines were consumed by another checkout.
	ErrCartChanged = errors.New("cart changed during checkout")
)

// IsClientError reports whether err belongs to the request-recoverable taxonomy.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrOutOfStock, ErrInvalidQuantity, ErrInvalidPage, ErrNotAuthorized,
		ErrInvalidStatus, ErrOrderTerminal, ErrIllegalTransition, ErrEmptyCart, ErrStatusConflict, ErrCartChanged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
