package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuctionItem is the archived row of an auction lot. The live engine
// owns the authoritative state; this table trails it through the
// write-behind worker and seeds the engine on startup.
type AuctionItem struct {
	gorm.Model

	ID            uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Name          string           `gorm:"type:varchar(255);not null"`
	Description   string           `gorm:"type:text;not null"`
	ImageURL      string           `gorm:"type:text"`
	Category      string           `gorm:"type:varchar(64);index"`
	Featured      bool             `gorm:"not null;default:false"`
	StartingPrice decimal.Decimal  `gorm:"type:numeric(14,2);not null"`
	ReservePrice  *decimal.Decimal `gorm:"type:numeric(14,2)"`
	CurrentPrice  decimal.Decimal  `gorm:"type:numeric(14,2);not null"`
	BidCount      int              `gorm:"not null;default:0"`
	OpenTime      time.Time        `gorm:"type:timestamp with time zone;not null"`
	CloseTime     time.Time        `gorm:"type:timestamp with time zone;not null"`

	Bids []Bid `gorm:"foreignKey:ItemID"`
}
