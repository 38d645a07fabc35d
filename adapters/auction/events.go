package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// TopicGlobal is the topic dashboards subscribe to for a summary of
// every accepted bid across all items. Per-item topics are named by the
// item id.
const TopicGlobal = "global"

// Event types published by the engine.
const (
	EventBid        = "bid"
	EventEndingSoon = "ending-soon"
	EventClosed     = "closed"
)

// Event is the payload fanned out to subscribers. One struct covers all
// three event types; unused fields are omitted on the wire.
type Event struct {
	Type             string          `json:"type"`
	ItemID           uuid.UUID       `json:"itemId"`
	ItemName         string          `json:"itemName,omitempty"`
	Category         string          `json:"category,omitempty"`
	NewPrice         decimal.Decimal `json:"newPrice,omitempty"`
	BidCount         int             `json:"bidCount,omitempty"`
	BidderName       string          `json:"bidderName,omitempty"`
	SecondsRemaining int64           `json:"secondsRemaining,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// eventWire is the msgpack shape of an Event. Amounts travel as strings
// so the decimal survives the round trip exactly.
type eventWire struct {
	Type             string
	ItemID           string
	ItemName         string
	Category         string
	NewPrice         string
	BidCount         int
	BidderName       string
	SecondsRemaining int64
	Timestamp        time.Time
}

func (e Event) MarshalMsgpack() ([]byte, error) {
	return msgpack.Marshal(eventWire{
		Type:             e.Type,
		ItemID:           e.ItemID.String(),
		ItemName:         e.ItemName,
		Category:         e.Category,
		NewPrice:         e.NewPrice.String(),
		BidCount:         e.BidCount,
		BidderName:       e.BidderName,
		SecondsRemaining: e.SecondsRemaining,
		Timestamp:        e.Timestamp,
	})
}

func (e *Event) UnmarshalMsgpack(data []byte) error {
	var w eventWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return err
	}
	itemID, err := uuid.Parse(w.ItemID)
	if err != nil {
		return fmt.Errorf("invalid item id %q: %w", w.ItemID, err)
	}
	price, err := decimal.NewFromString(w.NewPrice)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", w.NewPrice, err)
	}
	e.Type = w.Type
	e.ItemID = itemID
	e.ItemName = w.ItemName
	e.Category = w.Category
	e.NewPrice = price
	e.BidCount = w.BidCount
	e.BidderName = w.BidderName
	e.SecondsRemaining = w.SecondsRemaining
	e.Timestamp = w.Timestamp
	return nil
}

// Notifier receives accepted-change events from the engine. Publish must
// not block: the engine calls it from inside the per-item critical
// section and relies on the implementation to hand the event off to a
// queue. Delivery is at-most-once, best effort.
type Notifier interface {
	Publish(topic string, event Event) error
}

// Recorder receives accepted state for durable archival, outside the
// admission path. Implementations must queue and return immediately.
type Recorder interface {
	RecordItem(snapshot Snapshot)
	RecordBid(bid Bid, snapshot Snapshot)
}
