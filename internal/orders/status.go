package orders

import (
	"fmt"
	"slices"
)

// Status is the lifecycle stage of an order. The zero-based values are the stored encoding;
// clients see them shifted by one (see Public).
type Status int

const (
	StatusUnverified Status = iota
	StatusCancelling
	StatusCancelled
	StatusReturning
	StatusReturned
	StatusDelivering
	StatusDelivered
)

var statusNames = [...]string{
	StatusUnverified: "Unverified",
	StatusCancelling: "Cancelling",
	StatusCancelled:  "Cancelled",
	StatusReturning:  "Returning",
	StatusReturned:   "Returned",
	StatusDelivering: "Delivering",
	StatusDelivered:  "Delivered",
}

func (s Status) Valid() bool { return s >= StatusUnverified && s <= StatusDelivered }

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusReturned || s == StatusDelivered
}

// Public returns the 1-indexed ordinal used on the wire.
func (s Status) Public() int { return int(s) + 1 }

// StatusFromPublic parses a 1-indexed wire ordinal.
func StatusFromPublic(n int) (Status, error) {
	s := Status(n - 1)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, n)
	}
	return s, nil
}

type StatusEntry struct {
	Key   int    `json:"key"`
	Value string `json:"value"`
}

// Statuses lists every status with its wire ordinal.
func Statuses() []StatusEntry {
	out := make([]StatusEntry, 0, len(statusNames))
	for i, name := range statusNames {
		out = append(out, StatusEntry{Key: Status(i).Public(), Value: name})
	}
	return out
}

// Role is the acting identity's relationship to one order.
type Role int

const (
	RoleUnrelated Role = iota
	RoleSeller
	RoleBuyer
)

func (r Role) String() string {
	switch r {
	case RoleSeller:
		return "seller"
	case RoleBuyer:
		return "buyer"
	default:
		return "unrelated"
	}
}

// ResolveRole compares the actor with the order's buyer and the product's seller.
// The seller relationship wins when an identity is both.
func ResolveRole(actorID, buyerID, sellerID string) Role {
	switch {
	case actorID == "":
		return RoleUnrelated
	case actorID == sellerID:
		return RoleSeller
	case actorID == buyerID:
		return RoleBuyer
	default:
		return RoleUnrelated
	}
}

var sellerTransitions = map[Status][]Status{
	StatusUnverified: {StatusCancelled, StatusDelivering},
	StatusCancelling: {StatusCancelled},
	StatusReturning:  {StatusReturned},
	StatusDelivering: {StatusDelivered},
}

// Buyers only open disputes; the seller closes them.
var buyerTransitions = map[Status][]Status{
	StatusDelivering: {StatusReturning, StatusCancelling},
}

// CheckTransition decides whether role may move an order from current to target.
// It returns nil when allowed and a wrapped taxonomy error otherwise.
func CheckTransition(current Status, role Role, target Status) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, target.Public())
	}
	if current.Terminal() {
		return fmt.Errorf("%w: %s", ErrOrderTerminal, current)
	}

	var table map[Status][]Status
	switch role {
	case RoleSeller:
		table = sellerTransitions
	case RoleBuyer:
		table = buyerTransitions
	default:
		return ErrNotAuthorized
	}

	allowed, ok := table[current]
	if !ok || !slices.Contains(allowed, target) {
		return fmt.Errorf("%w: %s cannot change %s order to %s", ErrIllegalTransition, role, current, target)
	}
	return nil
}
