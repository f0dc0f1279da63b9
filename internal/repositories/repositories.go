package repositories

import (
	"context"
	"fmt"
	"time"

	"example.com/storesync/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteWriteError reports a failed write against the remote store. It is a
// transient condition: the caller must keep its source data and retry on the
// next cycle.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote write failed during %s: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// InventoryRepository provides write access to the remote inventory table.
type InventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// UpsertRows writes each row keyed by SKU, overwriting all attributes of an
// existing row with the same key. The batch is applied in one statement, so
// on failure none of it can be considered committed and the caller must not
// delete the source file.
func (r *InventoryRepository) UpsertRows(ctx context.Context, rows []models.InventoryItem) error {
	if len(rows) == 0 {
		return errors.New("refusing to upsert an empty batch")
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
	if err != nil {
		return &RemoteWriteError{Op: "inventory upsert", Err: err}
	}
	return nil
}

// OrderRepository provides access to the remote orders table. Only printed,
// printed_at and pdf_path are ever written; everything else is read-only.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// FetchUnprinted returns all orders with printed = false, oldest first. An
// empty result is not an error.
func (r *OrderRepository) FetchUnprinted(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("printed = ?", false).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch unprinted orders")
	}
	return orders, nil
}

// MarkPrinted flips printed to true for the given order, but only if it is
// still false. The returned bool reports whether the update was applied; a
// not-applied result means another cycle or instance got there first, which
// callers treat as success. The condition is what keeps printing at-most-once
// even with two daemons pointed at the same store.
func (r *OrderRepository) MarkPrinted(ctx context.Context, id string, pdfPath string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND printed = ?", id, false).
		Updates(map[string]interface{}{
			"printed":    true,
			"printed_at": now,
			"pdf_path":   pdfPath,
		})
	if res.Error != nil {
		return false, &RemoteWriteError{Op: "mark order printed", Err: res.Error}
	}
	return res.RowsAffected > 0, nil
}

// ResetForReprint clears the printed state so orders are regenerated on the
// next poll. With orderNumber empty every order is reset.
func (r *OrderRepository) ResetForReprint(ctx context.Context, orderNumber string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if orderNumber != "" {
		q = q.Where("order_number = ?", orderNumber)
	} else {
		q = q.Where("printed = ?", true)
	}
	res := q.Updates(map[string]interface{}{
		"printed":    false,
		"printed_at": nil,
		"pdf_path":   nil,
	})
	if res.Error != nil {
		return 0, &RemoteWriteError{Op: "reset orders for reprint", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// DailySalesRepository provides write access to the daily_sales table.
type DailySalesRepository struct {
	db *gorm.DB
}

// NewDailySalesRepository creates a new daily sales repository
func NewDailySalesRepository(db *gorm.DB) *DailySalesRepository {
	return &DailySalesRepository{db: db}
}

// Upsert writes one summary row keyed by (store_name, report_date).
func (r *DailySalesRepository) Upsert(ctx context.Context, rec *models.DailySales) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_name"}, {Name: "report_date"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return &RemoteWriteError{Op: "daily sales upsert", Err: err}
	}
	return nil
}
