package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bid is the archived row of one bid attempt. Indexed by
// (item_id, placed_at desc) for history pages and (item_id, leading)
// so the current leading bid never needs a scan.
type Bid struct {
	gorm.Model

	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ItemID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_bids_item_placed,priority:1;index:idx_bids_item_leading,priority:1"`
	BidderName    string          `gorm:"type:varchar(255);not null"`
	BidderContact string          `gorm:"type:varchar(255);index"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PlacedAt      time.Time       `gorm:"type:timestamp with time zone;not null;index:idx_bids_item_placed,priority:2,sort:desc"`
	Leading       bool            `gorm:"not null;default:false;index:idx_bids_item_leading,priority:2"`
	Valid         bool            `gorm:"not null;default:true"`
	Reason        string          `gorm:"type:varchar(32)"`
	Source        string          `gorm:"type:varchar(32)"`

	Item AuctionItem `gorm:"foreignKey:ItemID"`
}
