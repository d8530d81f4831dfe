package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errors surfaced by settlement operations. Every precondition failure
// is detected before any write and returned to the caller; nothing is
// swallowed inside the engine.
var (
	ErrAuthRequired = errors.New("bidder identity required")
	ErrNotFound     = errors.New("auction not found")
	ErrConflict     = errors.New("auction contention: retries exhausted")
)

// Reasons carried by InvalidStateError.
const (
	ReasonNotBiddable = "not biddable"
	ReasonSoldOut     = "sold out"
	ReasonNotStarted  = "not started"
	ReasonEnded       = "ended"
	ReasonNoBuyNow    = "no buy-now"
)

// InvalidStateError reports an auction that cannot accept the operation
// in its current lifecycle state.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return "invalid auction state: " + e.Reason
}

// ValidationError reports a bid rejected by the pricing rules. Floor
// carries the minimum acceptable amount so a client can retry with a
// corrected value.
type ValidationError struct {
	Reason string
	Floor  decimal.Decimal
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bid: %s (floor %s)", e.Reason, e.Floor)
}
