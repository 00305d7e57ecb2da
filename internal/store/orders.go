package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dashbite/apigw/internal/model"
)

type inboundOrderRow struct {
	ID              string     `db:"id"`
	APIKeyID        string     `db:"api_key_id"`
	ExternalID      string     `db:"external_id"`
	RestaurantID    string     `db:"restaurant_id"`
	CustomerName    string     `db:"customer_name"`
	DeliveryAddress string     `db:"delivery_address"`
	ItemsJSON       string     `db:"items_json"`
	ContainsAlcohol bool       `db:"contains_alcohol"`
	TotalCents      int64      `db:"total_cents"`
	Status          string     `db:"status"`
	ScheduledFor    *time.Time `db:"scheduled_for"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r inboundOrderRow) toModel() (model.InboundOrder, error) {
	var items []model.OrderItem
	if err := json.Unmarshal([]byte(r.ItemsJSON), &items); err != nil {
		return model.InboundOrder{}, fmt.Errorf("unmarshal order items: %w", err)
	}
	return model.InboundOrder{
		ID:              r.ID,
		APIKeyID:        r.APIKeyID,
		ExternalID:      r.ExternalID,
		RestaurantID:    r.RestaurantID,
		CustomerName:    r.CustomerName,
		DeliveryAddress: r.DeliveryAddress,
		Items:           items,
		ContainsAlcohol: r.ContainsAlcohol,
		TotalCents:      r.TotalCents,
		Status:          r.Status,
		ScheduledFor:    r.ScheduledFor,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// CreateInboundOrder inserts an order. ID, CreatedAt and UpdatedAt are
// populated on o. A repeated external ID for the same key returns ErrConflict.
func (s *Store) CreateInboundOrder(ctx context.Context, o *model.InboundOrder) error {
	now := s.now()
	o.ID = newID()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.ScheduledFor = utcPtr(o.ScheduledFor)

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	row := inboundOrderRow{
		ID:              o.ID,
		APIKeyID:        o.APIKeyID,
		ExternalID:      o.ExternalID,
		RestaurantID:    o.RestaurantID,
		CustomerName:    o.CustomerName,
		DeliveryAddress: o.DeliveryAddress,
		ItemsJSON:       string(items),
		ContainsAlcohol: o.ContainsAlcohol,
		TotalCents:      o.TotalCents,
		Status:          o.Status,
		ScheduledFor:    o.ScheduledFor,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}

	const q = `INSERT INTO inbound_orders
		(id, api_key_id, external_id, restaurant_id, customer_name, delivery_address, items_json,
		 contains_alcohol, total_cents, status, scheduled_for, created_at, updated_at)
		VALUES
		(:id, :api_key_id, :external_id, :restaurant_id, :customer_name, :delivery_address, :items_json,
		 :contains_alcohol, :total_cents, :status, :scheduled_for, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inbound order %q: %w", o.ExternalID, ErrConflict)
		}
		return fmt.Errorf("insert inbound order: %w", err)
	}
	return nil
}

// GetInboundOrder returns an inbound order by ID.
func (s *Store) GetInboundOrder(ctx context.Context, id string) (*model.InboundOrder, error) {
	var row inboundOrderRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM inbound_orders WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get inbound order: %w", err)
	}
	o, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListInboundOrders returns orders newest first. An empty apiKeyID lists
// orders from every key.
func (s *Store) ListInboundOrders(ctx context.Context, apiKeyID string, limit int) ([]model.InboundOrder, error) {
	var rows []inboundOrderRow
	var err error
	if apiKeyID == "" {
		err = s.db.SelectContext(ctx, &rows,
			s.q("SELECT * FROM inbound_orders ORDER BY created_at DESC, id DESC LIMIT ?"), limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.q("SELECT * FROM inbound_orders WHERE api_key_id = ? ORDER BY created_at DESC, id DESC LIMIT ?"),
			apiKeyID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list inbound orders: %w", err)
	}
	orders := make([]model.InboundOrder, 0, len(rows))
	for _, r := range rows {
		o, err := r.toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// UpdateInboundOrderStatus sets the status of an inbound order.
func (s *Store) UpdateInboundOrderStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE inbound_orders SET status = ?, updated_at = ? WHERE id = ?"), status, s.now(), id)
	if err != nil {
		return fmt.Errorf("update inbound order status: %w", err)
	}
	return affectedOne(result, "update inbound order status")
}
