package sim

import "errors"

var (
	// ErrCapacityExceeded is returned when the order or position table of a
	// SimState is full. It indicates a configuration error in the scenario.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDataUnavailable is returned when no price data exists for a symbol,
	// or the requested time lies outside every loadable window.
	ErrDataUnavailable = errors.New("price data unavailable")

	// ErrInsufficientFunds is recorded when a buy cannot be paid for.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is recorded when a sell exceeds the held quantity.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrNoPosition is recorded when a sell targets a symbol that is not held.
	ErrNoPosition = errors.New("no position held")

	// ErrInvalidQuantity is returned for buy/sell orders with a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrNoPriceSource is returned when a scenario is stepped without a price source.
	ErrNoPriceSource = errors.New("scenario has no price source")
)

// IsSettlementError reports whether err is one of the per-order settlement
// outcomes (funds, shares, position) that a strategy can legitimately trigger.
func IsSettlementError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrNoPosition)
}
