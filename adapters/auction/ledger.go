package auction

import (
	"sync"

	"github.com/google/uuid"
)

// Ledger is the append-only collection of bid attempts, accepted and
// rejected alike, with indexes for the lookups the API surface needs:
// per-item history (newest first), per-bidder history across items, and
// an O(1) leading-bid pointer per item.
//
// Bids are recorded by pointer; the only post-append mutation is the
// Leading flag flip, which happens under the ledger lock so concurrent
// readers never observe two leading bids for one item.
type Ledger struct {
	mu        sync.RWMutex
	byItem    map[uuid.UUID][]*Bid
	byContact map[string][]*Bid
	leading   map[uuid.UUID]*Bid
}

func NewLedger() *Ledger {
	return &Ledger{
		byItem:    make(map[uuid.UUID][]*Bid),
		byContact: make(map[string][]*Bid),
		leading:   make(map[uuid.UUID]*Bid),
	}
}

// Append records a bid attempt. It does not touch the leading pointer;
// accepted bids go through Promote.
func (l *Ledger) Append(b *Bid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(b)
}

// Promote appends an accepted bid and makes it the leading bid for its
// item, clearing the flag on the previous leader in the same critical
// section.
func (l *Ledger) Promote(b *Bid) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.leading[b.ItemID]; ok {
		prev.Leading = false
	}
	b.Leading = true
	l.leading[b.ItemID] = b
	l.append(b)
}

func (l *Ledger) append(b *Bid) {
	l.byItem[b.ItemID] = append(l.byItem[b.ItemID], b)
	if b.BidderContact != "" {
		l.byContact[b.BidderContact] = append(l.byContact[b.BidderContact], b)
	}
}

// Leading returns the current leading bid for an item, or nil if no bid
// has been accepted yet.
func (l *Ledger) Leading(itemID uuid.UUID) *Bid {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leading[itemID]
}

// History returns accepted bids for an item, newest first, paginated.
// The second return value is the total number of accepted bids.
func (l *Ledger) History(itemID uuid.UUID, page, pageSize int) ([]Bid, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	accepted := make([]*Bid, 0, len(l.byItem[itemID]))
	for _, b := range l.byItem[itemID] {
		if b.Valid {
			accepted = append(accepted, b)
		}
	}
	return paginateNewestFirst(accepted, page, pageSize), len(accepted)
}

// ByBidder returns accepted bids placed under the given contact across
// all items, newest first, paginated.
func (l *Ledger) ByBidder(contact string, page, pageSize int) ([]Bid, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	accepted := make([]*Bid, 0, len(l.byContact[contact]))
	for _, b := range l.byContact[contact] {
		if b.Valid {
			accepted = append(accepted, b)
		}
	}
	return paginateNewestFirst(accepted, page, pageSize), len(accepted)
}

// paginateNewestFirst copies one page out of a slice that is ordered
// oldest first, walking it backwards. Must be called with the ledger
// lock held.
func paginateNewestFirst(bids []*Bid, page, pageSize int) []Bid {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	start := (page - 1) * pageSize
	if start >= len(bids) {
		return []Bid{}
	}
	end := start + pageSize
	if end > len(bids) {
		end = len(bids)
	}
	out := make([]Bid, 0, end-start)
	for i := len(bids) - 1 - start; i >= len(bids)-end; i-- {
		out = append(out, *bids[i])
	}
	return out
}

const defaultPageSize = 20
