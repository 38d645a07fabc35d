package auction

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidItem is wrapped by CreateItem for parameter violations.
var ErrInvalidItem = errors.New("invalid item")

// Engine is the serialization point for bid admission. It owns the
// authoritative in-memory state of every item: concurrent submissions
// for the same item are linearized by a per-item mutex, submissions for
// different items proceed independently. The ledger is always appended
// to while the item lock is held, in that order.
//
// Lifecycle transitions are never scheduled; they are derived from the
// clock on every read and every admission check, and the one-shot
// "closed" broadcast is guarded by a per-item flag.
type Engine struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*itemState

	ledger   *Ledger
	notifier Notifier
	recorder Recorder

	clock        func() time.Time
	minIncrement decimal.Decimal
	endingSoon   time.Duration
	logger       *slog.Logger
}

// itemState pairs an item's immutable fields with the engine-owned
// mutable ones. mu is the unit of mutual exclusion for admission.
type itemState struct {
	mu   sync.Mutex
	item Item

	currentPrice decimal.Decimal
	bidCount     int
	views        int64
	lastBidAt    time.Time

	closedSent     bool
	endingSoonSent bool
}

type engineOptions struct {
	notifier     Notifier
	recorder     Recorder
	clock        func() time.Time
	minIncrement decimal.Decimal
	endingSoon   time.Duration
	logger       *slog.Logger
}

type EngineOption func(*engineOptions)

// WithNotifier sets the fan-out target for accepted changes.
func WithNotifier(n Notifier) EngineOption {
	return func(o *engineOptions) { o.notifier = n }
}

// WithRecorder sets the write-behind archive target.
func WithRecorder(r Recorder) EngineOption {
	return func(o *engineOptions) { o.recorder = r }
}

// WithClock overrides the time source. Tests use this to drive items
// through their lifecycle without sleeping.
func WithClock(clock func() time.Time) EngineOption {
	return func(o *engineOptions) { o.clock = clock }
}

// WithMinIncrement sets the smallest amount a bid must add on top of the
// current price. Default 1 unit.
func WithMinIncrement(d decimal.Decimal) EngineOption {
	return func(o *engineOptions) { o.minIncrement = d }
}

// WithEndingSoonThreshold sets how close to CloseTime an accepted bid
// must land to trigger the ending-soon event. Default 5 minutes.
func WithEndingSoonThreshold(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.endingSoon = d }
}

func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = logger }
}

func NewEngine(opts ...EngineOption) *Engine {
	options := engineOptions{
		clock:        time.Now,
		minIncrement: decimal.NewFromInt(1),
		endingSoon:   5 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Engine{
		items:        make(map[uuid.UUID]*itemState),
		ledger:       NewLedger(),
		notifier:     options.notifier,
		recorder:     options.recorder,
		clock:        options.clock,
		minIncrement: options.minIncrement,
		endingSoon:   options.endingSoon,
		logger:       options.logger.With(slog.String("caller", "Engine")),
	}
}

// CreateItemParams carries the creation-time fields of an item.
type CreateItemParams struct {
	Name          string
	Description   string
	ImageURL      string
	Category      string
	Featured      bool
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	OpenTime      time.Time
	CloseTime     time.Time
}

// CreateItem registers a new lot and archives its initial row.
func (e *Engine) CreateItem(params CreateItemParams) (Snapshot, error) {
	if strings.TrimSpace(params.Name) == "" {
		return Snapshot{}, fmt.Errorf("%w: name must not be empty", ErrInvalidItem)
	}
	if !params.StartingPrice.IsPositive() {
		return Snapshot{}, fmt.Errorf("%w: starting price must be positive", ErrInvalidItem)
	}
	if !params.CloseTime.After(params.OpenTime) {
		return Snapshot{}, fmt.Errorf("%w: close time must be after open time", ErrInvalidItem)
	}
	if params.ReservePrice != nil && params.ReservePrice.LessThan(params.StartingPrice) {
		return Snapshot{}, fmt.Errorf("%w: reserve price must not be below starting price", ErrInvalidItem)
	}

	now := e.clock()
	item := Item{
		ID:            uuid.New(),
		Name:          params.Name,
		Description:   params.Description,
		ImageURL:      params.ImageURL,
		Category:      params.Category,
		Featured:      params.Featured,
		StartingPrice: params.StartingPrice,
		ReservePrice:  params.ReservePrice,
		OpenTime:      params.OpenTime,
		CloseTime:     params.CloseTime,
		CreatedAt:     now,
	}
	st := &itemState{item: item, currentPrice: params.StartingPrice}

	e.mu.Lock()
	e.items[item.ID] = st
	e.mu.Unlock()

	snap := snapshot(st, now, e.minIncrement)
	if e.recorder != nil {
		e.recorder.RecordItem(snap)
	}
	return snap, nil
}

// Restore rebuilds an item and its accepted bid history, e.g. from the
// archive at startup. Bids must be ordered oldest first.
func (e *Engine) Restore(item Item, bids []Bid) {
	st := &itemState{item: item, currentPrice: item.StartingPrice}
	for i := range bids {
		b := bids[i]
		if !b.Valid {
			e.ledger.Append(&b)
			continue
		}
		e.ledger.Promote(&b)
		st.currentPrice = b.Amount
		st.bidCount++
		st.lastBidAt = b.PlacedAt
	}
	e.mu.Lock()
	e.items[item.ID] = st
	e.mu.Unlock()
}

// Bidder identifies who placed a bid and through which channel.
type Bidder struct {
	Name    string
	Contact string
	Source  string
}

// Outcome is the result of a submission: either an accepted bid or a
// classified rejection with the numbers the caller needs to correct it.
type Outcome struct {
	Accepted     bool
	Reason       Reason
	Status       Status
	CurrentPrice decimal.Decimal
	Floor        decimal.Decimal
	Bid          *Bid
	Item         *Snapshot
}

// Submit runs the admission protocol for one bid. Preconditions are
// checked in order, each short-circuiting: item exists, item open,
// amount strictly above current price, reserve cleared. On acceptance
// the leading-bid flip, price update and counter increment happen in a
// single critical section, and the fan-out handoff occurs before the
// outcome is returned. Rejected attempts are recorded in the ledger for
// audit without mutating the item.
func (e *Engine) Submit(itemID uuid.UUID, amount decimal.Decimal, bidder Bidder) Outcome {
	st := e.state(itemID)
	if st == nil {
		return Outcome{Reason: ReasonNotFound}
	}

	// Price observed before entering the critical section. If the floor
	// moved between here and the lock, the rejection is a Conflict, not
	// a plain TooLow.
	observed := st.price()

	now := e.clock()
	st.mu.Lock()
	defer st.mu.Unlock()

	status := StatusOf(st.item.OpenTime, st.item.CloseTime, now)
	if status != StatusOpen {
		e.emitClosedLocked(st, now)
		e.recordRejectLocked(st, amount, bidder, ReasonNotOpen, now)
		return Outcome{Reason: ReasonNotOpen, Status: status, CurrentPrice: st.currentPrice}
	}
	if !amount.GreaterThan(st.currentPrice) {
		reason := ReasonTooLow
		if st.currentPrice.GreaterThan(observed) {
			reason = ReasonConflict
		}
		e.recordRejectLocked(st, amount, bidder, reason, now)
		return Outcome{
			Reason:       reason,
			Status:       status,
			CurrentPrice: st.currentPrice,
			Floor:        st.currentPrice.Add(e.minIncrement),
		}
	}
	if st.item.ReservePrice != nil && amount.LessThan(*st.item.ReservePrice) {
		e.recordRejectLocked(st, amount, bidder, ReasonReserveNotMet, now)
		return Outcome{
			Reason:       ReasonReserveNotMet,
			Status:       status,
			CurrentPrice: st.currentPrice,
			Floor:        *st.item.ReservePrice,
		}
	}

	// Accepted. Timestamps stay strictly increasing per item even if the
	// clock stalls within its resolution.
	if !now.After(st.lastBidAt) {
		now = st.lastBidAt.Add(time.Nanosecond)
	}
	bid := &Bid{
		ID:            uuid.New(),
		ItemID:        st.item.ID,
		BidderName:    bidder.Name,
		BidderContact: bidder.Contact,
		Amount:        amount,
		PlacedAt:      now,
		Valid:         true,
		Source:        bidder.Source,
	}
	e.ledger.Promote(bid)
	st.currentPrice = amount
	st.bidCount++
	st.lastBidAt = now

	snap := snapshot(st, now, e.minIncrement)
	e.publish(st.item.ID.String(), Event{
		Type:       EventBid,
		ItemID:     st.item.ID,
		ItemName:   st.item.Name,
		NewPrice:   amount,
		BidCount:   st.bidCount,
		BidderName: bidder.Name,
		Timestamp:  now,
	})
	e.publish(TopicGlobal, Event{
		Type:      EventBid,
		ItemID:    st.item.ID,
		ItemName:  st.item.Name,
		Category:  st.item.Category,
		NewPrice:  amount,
		Timestamp: now,
	})
	if remaining := st.item.CloseTime.Sub(now); remaining < e.endingSoon && !st.endingSoonSent {
		st.endingSoonSent = true
		e.publish(st.item.ID.String(), Event{
			Type:             EventEndingSoon,
			ItemID:           st.item.ID,
			ItemName:         st.item.Name,
			SecondsRemaining: int64(remaining.Seconds()),
			Timestamp:        now,
		})
	}
	if e.recorder != nil {
		e.recorder.RecordBid(*bid, snap)
	}

	out := *bid
	return Outcome{Accepted: true, CurrentPrice: amount, Bid: &out, Item: &snap}
}

// Get returns a snapshot of one item and bumps its view counter. The
// closed broadcast is evaluated lazily here, so an item whose close time
// passed without a bid attempt still notifies its room on the next read.
func (e *Engine) Get(itemID uuid.UUID) (Snapshot, bool) {
	st := e.state(itemID)
	if st == nil {
		return Snapshot{}, false
	}
	now := e.clock()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.views++
	e.emitClosedLocked(st, now)
	return snapshot(st, now, e.minIncrement), true
}

// Peek returns a snapshot without counting a view, for callers that
// only need existence and status.
func (e *Engine) Peek(itemID uuid.UUID) (Snapshot, bool) {
	st := e.state(itemID)
	if st == nil {
		return Snapshot{}, false
	}
	now := e.clock()
	st.mu.Lock()
	defer st.mu.Unlock()
	e.emitClosedLocked(st, now)
	return snapshot(st, now, e.minIncrement), true
}

// Related returns up to limit other items in the same category,
// soonest-closing first.
func (e *Engine) Related(itemID uuid.UUID, limit int) []Snapshot {
	st := e.state(itemID)
	if st == nil {
		return nil
	}
	snaps := e.snapshots()
	related := make([]Snapshot, 0, limit)
	for _, s := range snaps {
		if s.ID == itemID || s.Category != st.item.Category {
			continue
		}
		related = append(related, s)
	}
	sort.Slice(related, func(i, j int) bool {
		return related[i].CloseTime.Before(related[j].CloseTime)
	})
	if len(related) > limit {
		related = related[:limit]
	}
	return related
}

// History returns an item's accepted bids, newest first. The boolean
// reports whether the item exists.
func (e *Engine) History(itemID uuid.UUID, page, pageSize int) ([]Bid, int, bool) {
	st := e.state(itemID)
	if st == nil {
		return nil, 0, false
	}
	now := e.clock()
	st.mu.Lock()
	e.emitClosedLocked(st, now)
	st.mu.Unlock()
	bids, total := e.ledger.History(itemID, page, pageSize)
	return bids, total, true
}

// ByBidder returns accepted bids placed under a contact across items,
// newest first.
func (e *Engine) ByBidder(contact string, page, pageSize int) ([]Bid, int) {
	return e.ledger.ByBidder(contact, page, pageSize)
}

func (e *Engine) state(itemID uuid.UUID) *itemState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.items[itemID]
}

func (e *Engine) snapshots() []Snapshot {
	e.mu.RLock()
	states := make([]*itemState, 0, len(e.items))
	for _, st := range e.items {
		states = append(states, st)
	}
	e.mu.RUnlock()

	now := e.clock()
	snaps := make([]Snapshot, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		e.emitClosedLocked(st, now)
		snaps = append(snaps, snapshot(st, now, e.minIncrement))
		st.mu.Unlock()
	}
	return snaps
}

// price reads the current price outside the admission critical section.
func (st *itemState) price() decimal.Decimal {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.currentPrice
}

// snapshot builds a point-in-time view. Caller holds st.mu, or owns st
// exclusively.
func snapshot(st *itemState, now time.Time, minIncrement decimal.Decimal) Snapshot {
	return Snapshot{
		Item:         st.item,
		Status:       StatusOf(st.item.OpenTime, st.item.CloseTime, now),
		CurrentPrice: st.currentPrice,
		MinNextBid:   st.currentPrice.Add(minIncrement),
		BidCount:     st.bidCount,
		Views:        st.views,
	}
}

// emitClosedLocked publishes the closed event exactly once per item.
// Caller holds st.mu.
func (e *Engine) emitClosedLocked(st *itemState, now time.Time) {
	if st.closedSent || StatusOf(st.item.OpenTime, st.item.CloseTime, now) != StatusClosed {
		return
	}
	st.closedSent = true
	e.publish(st.item.ID.String(), Event{
		Type:      EventClosed,
		ItemID:    st.item.ID,
		ItemName:  st.item.Name,
		Timestamp: now,
	})
}

// recordRejectLocked appends the failed attempt to the ledger for audit.
// Caller holds st.mu; the item itself is not touched.
func (e *Engine) recordRejectLocked(st *itemState, amount decimal.Decimal, bidder Bidder, reason Reason, now time.Time) {
	e.ledger.Append(&Bid{
		ID:            uuid.New(),
		ItemID:        st.item.ID,
		BidderName:    bidder.Name,
		BidderContact: bidder.Contact,
		Amount:        amount,
		PlacedAt:      now,
		Valid:         false,
		Reason:        reason,
		Source:        bidder.Source,
	})
}

func (e *Engine) publish(topic string, event Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(topic, event); err != nil {
		e.logger.Error("fail to publish event", slog.String("topic", topic), slog.String("type", event.Type), slog.Any("error", err))
	}
}
