package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"gavel/adapters/auction"
)

type CreateItemRequest struct {
	Name          string       `json:"name" binding:"required"`
	Description   *string      `json:"description"`
	ImageURL      *string      `json:"imageUrl"`
	Category      *string      `json:"category"`
	Featured      *bool        `json:"featured"`
	StartingPrice json.Number  `json:"startingPrice" binding:"required"`
	ReservePrice  *json.Number `json:"reservePrice"`
	OpenTime      *time.Time   `json:"openTime"`
	CloseTime     time.Time    `json:"closeTime" binding:"required"`
}

type PlaceBidRequest struct {
	Amount        json.Number `json:"amount" binding:"required"`
	BidderName    string      `json:"bidderName" binding:"required"`
	BidderContact string      `json:"bidderContact"`
	Source        string      `json:"source"`
}

type ListItemsParams struct {
	Status   string `form:"status"`
	Category string `form:"category"`
	PriceMin string `form:"priceMin"`
	PriceMax string `form:"priceMax"`
	Search   string `form:"search"`
	Sort     string `form:"sort"`
	Order    string `form:"order"`
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"pageSize,default=20"`
}

type PageParams struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"pageSize,default=20"`
}

type ItemView struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	ImageURL      string           `json:"imageUrl,omitempty"`
	Category      string           `json:"category,omitempty"`
	Featured      bool             `json:"featured"`
	Status        string           `json:"status"`
	StartingPrice decimal.Decimal  `json:"startingPrice"`
	CurrentPrice  decimal.Decimal  `json:"currentPrice"`
	MinNextBid    decimal.Decimal  `json:"minNextBid"`
	ReservePrice  *decimal.Decimal `json:"reservePrice,omitempty"`
	BidCount      int              `json:"bidCount"`
	Views         int64            `json:"views"`
	OpenTime      time.Time        `json:"openTime"`
	CloseTime     time.Time        `json:"closeTime"`
}

type BidView struct {
	ID            string          `json:"id"`
	ItemID        string          `json:"itemId"`
	BidderName    string          `json:"bidderName"`
	BidderContact string          `json:"bidderContact,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PlacedAt      time.Time       `json:"placedAt"`
	Leading       bool            `json:"leading"`
}

type PlaceBidResponse struct {
	Accepted     bool             `json:"accepted"`
	Reason       string           `json:"reason,omitempty"`
	Message      string           `json:"message,omitempty"`
	Status       string           `json:"status,omitempty"`
	CurrentPrice *decimal.Decimal `json:"currentPrice,omitempty"`
	MinNextBid   *decimal.Decimal `json:"minNextBid,omitempty"`
	Bid          *BidView         `json:"bid,omitempty"`
	Item         *ItemView        `json:"item,omitempty"`
}

type ListItemsResponse struct {
	Count int        `json:"count"`
	Total int        `json:"total"`
	Items []ItemView `json:"items"`
}

type GetItemResponse struct {
	Item    ItemView   `json:"item"`
	Related []ItemView `json:"related"`
}

type BidListResponse struct {
	Count int       `json:"count"`
	Total int       `json:"total"`
	Bids  []BidView `json:"bids"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

func toItemView(s auction.Snapshot) ItemView {
	return ItemView{
		ID:            s.ID.String(),
		Name:          s.Name,
		Description:   s.Description,
		ImageURL:      s.ImageURL,
		Category:      s.Category,
		Featured:      s.Featured,
		Status:        string(s.Status),
		StartingPrice: s.StartingPrice,
		CurrentPrice:  s.CurrentPrice,
		MinNextBid:    s.MinNextBid,
		ReservePrice:  s.ReservePrice,
		BidCount:      s.BidCount,
		Views:         s.Views,
		OpenTime:      s.OpenTime,
		CloseTime:     s.CloseTime,
	}
}

func toItemViews(snaps []auction.Snapshot) []ItemView {
	views := make([]ItemView, len(snaps))
	for i, s := range snaps {
		views[i] = toItemView(s)
	}
	return views
}

func toBidView(b auction.Bid) BidView {
	return BidView{
		ID:            b.ID.String(),
		ItemID:        b.ItemID.String(),
		BidderName:    b.BidderName,
		BidderContact: b.BidderContact,
		Amount:        b.Amount,
		PlacedAt:      b.PlacedAt,
		Leading:       b.Leading,
	}
}

func toBidViews(bids []auction.Bid) []BidView {
	views := make([]BidView, len(bids))
	for i, b := range bids {
		views[i] = toBidView(b)
	}
	return views
}

// parseAmount validates currency input: positive, at most two decimal
// places.
func parseAmount(raw json.Number) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !d.IsPositive() || d.Exponent() < -2 {
		return decimal.Decimal{}, false
	}
	return d, true
}
