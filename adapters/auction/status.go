package auction

import "time"

// Status is the derived lifecycle state of an item. It is never stored;
// callers must re-derive it from the item's time bounds at every read,
// because two reads separated by real time can legitimately disagree.
type Status string

const (
	StatusNotOpen Status = "not-open"
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
)

// StatusOf maps an item's time bounds and a point in time to a lifecycle
// state. Pure function, total over all inputs.
func StatusOf(openTime, closeTime, now time.Time) Status {
	if now.Before(openTime) {
		return StatusNotOpen
	}
	if now.Before(closeTime) {
		return StatusOpen
	}
	return StatusClosed
}
