package auction

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// SortKey names the orderings List supports.
type SortKey string

const (
	SortCloseTime SortKey = "close_time"
	SortPrice     SortKey = "price"
	SortBidCount  SortKey = "bid_count"
	SortNewest    SortKey = "newest"
)

// Filter narrows and orders a listing. Zero values mean "no constraint".
type Filter struct {
	Status   Status
	Category string
	PriceMin *decimal.Decimal
	PriceMax *decimal.Decimal
	Search   string

	Sort     SortKey
	Desc     bool
	Page     int
	PageSize int
}

// List returns one page of item snapshots matching the filter, plus the
// total match count. Status in every snapshot is derived at call time.
func (e *Engine) List(f Filter) ([]Snapshot, int) {
	snaps := e.snapshots()

	matched := snaps[:0]
	search := strings.ToLower(strings.TrimSpace(f.Search))
	for _, s := range snaps {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Category != "" && s.Category != f.Category {
			continue
		}
		if f.PriceMin != nil && s.CurrentPrice.LessThan(*f.PriceMin) {
			continue
		}
		if f.PriceMax != nil && s.CurrentPrice.GreaterThan(*f.PriceMax) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(s.Name), search) &&
			!strings.Contains(strings.ToLower(s.Description), search) {
			continue
		}
		matched = append(matched, s)
	}

	less := lessFunc(f.Sort, matched)
	sort.SliceStable(matched, func(i, j int) bool {
		if f.Desc {
			i, j = j, i
		}
		return less(i, j)
	})

	total := len(matched)
	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []Snapshot{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

func lessFunc(key SortKey, snaps []Snapshot) func(i, j int) bool {
	switch key {
	case SortPrice:
		return func(i, j int) bool { return snaps[i].CurrentPrice.LessThan(snaps[j].CurrentPrice) }
	case SortBidCount:
		return func(i, j int) bool { return snaps[i].BidCount < snaps[j].BidCount }
	case SortNewest:
		return func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) }
	default:
		return func(i, j int) bool { return snaps[i].CloseTime.Before(snaps[j].CloseTime) }
	}
}
