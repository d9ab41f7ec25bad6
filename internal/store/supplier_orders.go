package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateSupplierOrder creates a new supplier order row.
func (s *Store) CreateSupplierOrder(ctx context.Context, so *models.SupplierOrder) error {
	query := `
		INSERT INTO supplier_orders (order_id, supplier_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, attempts, created_at, updated_at`

	return s.db.GetContext(ctx, so, query, so.OrderID, so.SupplierID, so.Status)
}

// GetSupplierOrderByOrderID retrieves the supplier order for an order.
// Returns nil without error when none exists yet.
func (s *Store) GetSupplierOrderByOrderID(ctx context.Context, orderID int64) (*models.SupplierOrder, error) {
	var so models.SupplierOrder
	err := s.db.GetContext(ctx, &so, "SELECT * FROM supplier_orders WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &so, nil
}

// UpdateSupplierOrder persists the mutable supplier order fields.
func (s *Store) UpdateSupplierOrder(ctx context.Context, so *models.SupplierOrder) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE supplier_orders SET
			external_order_id = $1, status = $2, tracking_number = $3, tracking_url = $4,
			attempts = $5, last_error = $6, last_synced_at = $7, updated_at = NOW()
		WHERE id = $8`,
		so.ExternalOrderID, so.Status, so.TrackingNumber, so.TrackingURL,
		so.Attempts, so.LastError, so.LastSyncedAt, so.ID)
	if err != nil {
		return fmt.Errorf("failed to update supplier order: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("supplier order %d: %w", so.ID, ErrNotFound)
	}
	return nil
}

// ListSupplierOrdersDueForSync returns supplier orders in the given statuses
// whose last sync is older than the staleness cutoff (or that have never
// been synced), oldest first.
func (s *Store) ListSupplierOrdersDueForSync(ctx context.Context, statuses []string, staleness time.Duration, limit int) ([]models.SupplierOrder, error) {
	cutoff := time.Now().Add(-staleness)

	query, args, err := sqlx.In(`
		SELECT * FROM supplier_orders
		WHERE status IN (?)
		  AND (last_synced_at IS NULL OR last_synced_at < ?)
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT ?`, statuses, cutoff, limit)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var orders []models.SupplierOrder
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}
