// Package archive trails the in-memory engine with a durable copy in
// Postgres. Writes ride a write-behind queue so the admission path
// never waits on the database; reads happen once, at startup, to seed
// the engine.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gavel/adapters/auction"
	"gavel/models"
)

type archiveOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type ArchiveOption func(*archiveOptions)

func WithArchiveLogger(logger *slog.Logger) ArchiveOption {
	return func(o *archiveOptions) { o.logger = logger }
}

func WithArchiveBufferSize(size int) ArchiveOption {
	return func(o *archiveOptions) { o.bufferSize = size }
}

// entry is one queued write: an item upsert, plus optionally the bid
// that caused it.
type entry struct {
	bid      *auction.Bid
	snapshot auction.Snapshot
}

// Archive implements auction.Recorder over gorm. RecordItem and
// RecordBid enqueue and return; a single worker goroutine applies the
// queue in order, so archived rows replay the admission order.
type Archive struct {
	db         *gorm.DB
	queue      *chanx.UnboundedChan[entry]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    archiveOptions
}

func New(db *gorm.DB, opts ...ArchiveOption) (*Archive, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	options := archiveOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Archive{
		db:      db,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Archive")),
		options: options,
	}, nil
}

// Migrate creates or updates the archive tables.
func (a *Archive) Migrate() error {
	const op = "Migrate"
	if err := a.db.AutoMigrate(&models.AuctionItem{}, &models.Bid{}); err != nil {
		return fmt.Errorf("[%s] Fail to migrate archive schema, err=%w", op, err)
	}
	return nil
}

func (a *Archive) Start() {
	if !a.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.queue = chanx.NewUnboundedChan[entry](ctx, a.options.bufferSize)
	a.cancelFunc = cancel
	a.closed = false
	a.logger.Info("starting archive worker")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.logger.Info("archive worker stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-a.queue.Out:
				if !ok {
					return
				}
				if err := a.persist(e); err != nil {
					a.logger.Error("fail to archive entry",
						slog.String("itemID", e.snapshot.ID.String()),
						slog.Any("error", err))
				}
			}
		}
	}()
}

func (a *Archive) Close() {
	if a.closed {
		return
	}
	a.logger.Info("closing archive worker")
	a.closed = true
	a.cancelFunc()
	a.wg.Wait()
}

// RecordItem queues the item row for upsert.
func (a *Archive) RecordItem(snapshot auction.Snapshot) {
	if a.closed {
		return
	}
	a.queue.In <- entry{snapshot: snapshot}
}

// RecordBid queues an accepted bid and the item state it produced.
func (a *Archive) RecordBid(bid auction.Bid, snapshot auction.Snapshot) {
	if a.closed {
		return
	}
	a.queue.In <- entry{bid: &bid, snapshot: snapshot}
}

func (a *Archive) persist(e entry) error {
	const op = "persist"
	item := models.AuctionItem{
		ID:            e.snapshot.ID,
		Name:          e.snapshot.Name,
		Description:   e.snapshot.Description,
		ImageURL:      e.snapshot.ImageURL,
		Category:      e.snapshot.Category,
		Featured:      e.snapshot.Featured,
		StartingPrice: e.snapshot.StartingPrice,
		ReservePrice:  e.snapshot.ReservePrice,
		CurrentPrice:  e.snapshot.CurrentPrice,
		BidCount:      e.snapshot.BidCount,
		OpenTime:      e.snapshot.OpenTime,
		CloseTime:     e.snapshot.CloseTime,
	}

	return a.db.Transaction(func(tx *gorm.DB) error {
		if result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_price", "bid_count", "updated_at"}),
		}).Create(&item); result.Error != nil {
			return fmt.Errorf("[%s] Fail to upsert item, err=%w", op, result.Error)
		}
		if e.bid == nil {
			return nil
		}
		if result := tx.Model(&models.Bid{}).
			Where("item_id = ? AND leading = ?", e.bid.ItemID, true).
			Update("leading", false); result.Error != nil {
			return fmt.Errorf("[%s] Fail to clear previous leading bid, err=%w", op, result.Error)
		}
		record := models.Bid{
			ID:            e.bid.ID,
			ItemID:        e.bid.ItemID,
			BidderName:    e.bid.BidderName,
			BidderContact: e.bid.BidderContact,
			Amount:        e.bid.Amount,
			PlacedAt:      e.bid.PlacedAt,
			Leading:       e.bid.Leading,
			Valid:         e.bid.Valid,
			Reason:        string(e.bid.Reason),
			Source:        e.bid.Source,
		}
		if result := tx.Create(&record); result.Error != nil {
			return fmt.Errorf("[%s] Fail to insert bid, err=%w", op, result.Error)
		}
		return nil
	})
}

// Restored is one item read back from the archive with its accepted
// bids, oldest first.
type Restored struct {
	Item auction.Item
	Bids []auction.Bid
}

// Load reads every archived item for seeding the engine at startup.
func (a *Archive) Load(ctx context.Context) ([]Restored, error) {
	const op = "Load"
	var rows []models.AuctionItem
	if result := a.db.WithContext(ctx).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Where("valid = ?", true).Order("placed_at ASC")
		}).
		Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to load items, err=%w", op, result.Error)
	}

	restored := make([]Restored, 0, len(rows))
	for _, row := range rows {
		item := auction.Item{
			ID:            row.ID,
			Name:          row.Name,
			Description:   row.Description,
			ImageURL:      row.ImageURL,
			Category:      row.Category,
			Featured:      row.Featured,
			StartingPrice: row.StartingPrice,
			ReservePrice:  row.ReservePrice,
			OpenTime:      row.OpenTime,
			CloseTime:     row.CloseTime,
			CreatedAt:     row.CreatedAt,
		}
		bids := make([]auction.Bid, 0, len(row.Bids))
		for _, b := range row.Bids {
			bids = append(bids, auction.Bid{
				ID:            b.ID,
				ItemID:        b.ItemID,
				BidderName:    b.BidderName,
				BidderContact: b.BidderContact,
				Amount:        b.Amount,
				PlacedAt:      b.PlacedAt,
				Leading:       b.Leading,
				Valid:         b.Valid,
				Reason:        auction.Reason(b.Reason),
				Source:        b.Source,
			})
		}
		restored = append(restored, Restored{Item: item, Bids: bids})
	}
	return restored, nil
}
