package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item holds the immutable fields of an auction lot. The mutable price
// state lives in the engine's per-item record; everything here is fixed
// at creation.
type Item struct {
	ID          uuid.UUID
	Name        string
	Description string
	ImageURL    string
	Category    string
	Featured    bool

	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal

	OpenTime  time.Time
	CloseTime time.Time

	CreatedAt time.Time
}

// Snapshot is a point-in-time view of an item, including the derived
// status and the engine-owned price fields.
type Snapshot struct {
	Item

	Status       Status
	CurrentPrice decimal.Decimal
	MinNextBid   decimal.Decimal
	BidCount     int
	Views        int64
}

// Bid is one bid attempt, accepted or rejected. Rejected attempts are
// retained in the ledger for audit with Valid=false and a reason code.
// Amount and PlacedAt never change after recording; only the Leading
// flag flips when a later bid is accepted.
type Bid struct {
	ID            uuid.UUID       `json:"id"`
	ItemID        uuid.UUID       `json:"itemId"`
	BidderName    string          `json:"bidderName"`
	BidderContact string          `json:"bidderContact,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PlacedAt      time.Time       `json:"placedAt"`
	Leading       bool            `json:"leading"`
	Valid         bool            `json:"valid"`
	Reason        Reason          `json:"reason,omitempty"`
	Source        string          `json:"source,omitempty"`
}
