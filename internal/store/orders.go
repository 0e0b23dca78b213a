package store

import (
	"context"
	"time"

	"github.com/brainbank/osce/internal/model"
)

// CreateOrder records a plan purchase for a user.
func (s *Store) CreateOrder(ctx context.Context, userID int64, planName string, status model.OrderStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (user_id, plan_name, status, created_at) VALUES (?, ?, ?, ?)`,
		userID, planName, status, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateOrderStatus moves an order to a new lifecycle state.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	return err
}

// ListOrders returns every order of a user, oldest first.
func (s *Store) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, plan_name, status, created_at FROM orders WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.PlanName, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
