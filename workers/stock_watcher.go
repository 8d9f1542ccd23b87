// workers/stock_watcher.go
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cookie-claim-system/models"
	"cookie-claim-system/notify"
	"cookie-claim-system/stock"
)

// StockWatcher records the stock level of every enabled catalog entry and
// tells the community log when an entry runs out.
type StockWatcher struct {
	DB         *gorm.DB
	Stock      stock.Source
	Dispatcher notify.Dispatcher
	Now        func() time.Time
	logger     *slog.Logger
}

func NewStockWatcher(db *gorm.DB, src stock.Source, dispatcher notify.Dispatcher) *StockWatcher {
	return &StockWatcher{
		DB:         db,
		Stock:      src,
		Dispatcher: dispatcher,
		Now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default().With("component", "stock_watcher"),
	}
}

// Snapshot lists every enabled pool and upserts the snapshots. It returns
// how many entries were written.
func (w *StockWatcher) Snapshot(ctx context.Context) (int, error) {
	var items []models.CookieType
	if err := w.DB.WithContext(ctx).Where("enabled = ?", true).Find(&items).Error; err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var previous []models.StockSnapshot
	if err := w.DB.WithContext(ctx).Find(&previous).Error; err != nil {
		return 0, fmt.Errorf("load snapshots: %w", err)
	}
	before := make(map[string]int, len(previous))
	for _, p := range previous {
		before[p.CommunityID+"/"+p.ItemType] = p.Available
	}

	now := w.Now()
	snapshots := make([]models.StockSnapshot, 0, len(items))
	for _, item := range items {
		snap := models.StockSnapshot{
			CommunityID: item.CommunityID,
			ItemType:    item.ItemType,
			Status:      stock.StatusUnavailable,
			CheckedAt:   now,
		}

		units, err := w.list(ctx, item.StockSource)
		if err != nil {
			snap.Error = truncate(err.Error(), 255)
		} else {
			snap.Available = len(units)
			snap.Status = stock.Status(len(units))
		}
		snapshots = append(snapshots, snap)

		if prev, ok := before[item.CommunityID+"/"+item.ItemType]; ok && prev > 0 && err == nil && snap.Available == 0 {
			w.alert(ctx, item)
		}
	}

	// Batch upsert, one statement on PostgreSQL.
	if err := w.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}, {Name: "item_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"available",
				"status",
				"error",
				"checked_at",
			}),
		},
	).Create(&snapshots).Error; err != nil {
		return 0, fmt.Errorf("upsert %d snapshot(s): %w", len(snapshots), err)
	}

	return len(snapshots), nil
}

func (w *StockWatcher) list(ctx context.Context, source string) ([]string, error) {
	pool, err := w.Stock.PoolFor(source)
	if err != nil {
		return nil, err
	}
	return pool.List(ctx)
}

func (w *StockWatcher) alert(ctx context.Context, item models.CookieType) {
	w.logger.Warn("cookie ran out of stock", "community_id", item.CommunityID, "item_type", item.ItemType)
	if err := w.Dispatcher.Log(ctx, item.CommunityID, fmt.Sprintf("%s is out of stock", item.ItemType)); err != nil {
		w.logger.Warn("community log failed", "community_id", item.CommunityID, "error", err)
	}
}

// Snapshots returns the recorded stock levels of a community.
func Snapshots(ctx context.Context, db *gorm.DB, communityID string) ([]models.StockSnapshot, error) {
	var out []models.StockSnapshot
	err := db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("item_type").
		Find(&out).Error
	return out, err
}

// PollStock takes a snapshot immediately and then every interval until ctx
// is done.
func PollStock(ctx context.Context, w *StockWatcher, interval time.Duration) {
	w.logger.Info("starting stock polling", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := w.Snapshot(ctx); err != nil {
			w.logger.Error("stock snapshot failed", "error", err)
		} else {
			w.logger.Debug("stock snapshot written", "entries", n)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("stock polling stopped")
			return
		case <-ticker.C:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
