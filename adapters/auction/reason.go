package auction

// Reason classifies why a bid attempt was rejected. None of these are
// process-fatal; they are per-request outcomes.
type Reason string

const (
	// ReasonNotFound: unknown item id.
	ReasonNotFound Reason = "not_found"
	// ReasonInvalid: malformed amount, id or bidder name.
	ReasonInvalid Reason = "invalid"
	// ReasonNotOpen: the item is not open for bidding. The outcome carries
	// the derived status so callers can tell "too early" from "too late".
	ReasonNotOpen Reason = "not_open"
	// ReasonTooLow: amount does not strictly exceed the current price.
	ReasonTooLow Reason = "too_low"
	// ReasonReserveNotMet: amount is below the item's reserve price.
	ReasonReserveNotMet Reason = "reserve_not_met"
	// ReasonRateLimited: the origin exhausted its submission window.
	ReasonRateLimited Reason = "rate_limited"
	// ReasonConflict: the submission validated against a price that a
	// concurrent accepted bid replaced before this one reached the item
	// lock. A normal outcome of the admission protocol; the caller should
	// re-evaluate against the floor in the outcome, not blindly retry.
	ReasonConflict Reason = "conflict"
	// ReasonUnavailable: underlying storage unreachable. The engine never
	// applies a partial update on this path.
	ReasonUnavailable Reason = "unavailable"
)
