package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"
)

// CreateOrder inserts an order and its items in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			order_number, customer_name, customer_email, customer_phone,
			shipping_address, shipping_city, shipping_country, shipping_zip,
			subtotal, shipping_cost, total,
			status, payment_status, payment_method
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, version, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.OrderNumber, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.ShippingCity, order.ShippingCountry, order.ShippingZip,
		order.Subtotal, order.ShippingCost, order.Total,
		order.Status, order.PaymentStatus, order.PaymentMethod,
	); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, variant_id, name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, itemQuery,
			items[i].OrderID, items[i].ProductID, items[i].VariantID, items[i].Name,
			items[i].Quantity, items[i].UnitPrice, items[i].LineTotal,
		); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its public order number
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", orderNumber, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetStatusHistory retrieves the transition log for an order, oldest first.
func (s *Store) GetStatusHistory(ctx context.Context, orderID int64) ([]models.StatusHistoryEntry, error) {
	var entries []models.StatusHistoryEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM status_history WHERE order_id = $1 ORDER BY id", orderID)
	return entries, err
}

// HasHistoryEntry reports whether a transition with the given dedup key has
// already been recorded.
func (s *Store) HasHistoryEntry(ctx context.Context, dedupKey string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM status_history WHERE dedup_key = $1)", dedupKey)
	return exists, err
}

// TransitionFunc inspects the locked order and returns the mutated order
// plus the history entry to append. Returning an error rolls the
// transaction back and leaves the order untouched.
type TransitionFunc func(order *models.Order) (*models.Order, *models.StatusHistoryEntry, error)

// TransitionOrder applies a status transition under a row-level lock.
// The dedup key is re-checked inside the transaction so two concurrent
// deliveries of the same event serialize on the row lock and only the first
// one writes. Returns ErrDuplicateEvent (with the current order) when the
// key was already recorded.
func (s *Store) TransitionOrder(ctx context.Context, orderID int64, dedupKey string, fn TransitionFunc) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	var seen bool
	if err := tx.GetContext(ctx, &seen,
		"SELECT EXISTS(SELECT 1 FROM status_history WHERE dedup_key = $1)", dedupKey); err != nil {
		return nil, fmt.Errorf("failed to check dedup key: %w", err)
	}
	if seen {
		return &order, ErrDuplicateEvent
	}

	updated, entry, err := fn(&order)
	if err != nil {
		return &order, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, payment_ref = $3,
			tracking_number = $4, tracking_url = $5,
			confirmed_at = $6, shipped_at = $7, delivered_at = $8,
			version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10`,
		updated.Status, updated.PaymentStatus, updated.PaymentRef,
		updated.TrackingNumber, updated.TrackingURL,
		updated.ConfirmedAt, updated.ShippedAt, updated.DeliveredAt,
		updated.ID, updated.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrVersionConflict
	}

	if err := tx.GetContext(ctx, &entry.ID, `
		INSERT INTO status_history (order_id, from_status, to_status, cause, dedup_key, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.OrderID, entry.FromStatus, entry.ToStatus, entry.Cause, entry.DedupKey, entry.Note,
	); err != nil {
		return nil, fmt.Errorf("failed to append status history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated.Version++
	return updated, nil
}
