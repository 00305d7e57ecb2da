package model

import "time"

// InboundOrder is an order submitted by a third-party integration.
type InboundOrder struct {
	ID              string      `json:"id" db:"id"`
	APIKeyID        string      `json:"api_key_id" db:"api_key_id"`
	ExternalID      string      `json:"external_id" db:"external_id"`
	RestaurantID    string      `json:"restaurant_id" db:"restaurant_id"`
	CustomerName    string      `json:"customer_name" db:"customer_name"`
	DeliveryAddress string      `json:"delivery_address" db:"delivery_address"`
	Items           []OrderItem `json:"items"`
	ContainsAlcohol bool        `json:"contains_alcohol" db:"contains_alcohol"`
	TotalCents      int64       `json:"total_cents" db:"total_cents"`
	Status          string      `json:"status" db:"status"`
	ScheduledFor    *time.Time  `json:"scheduled_for,omitempty" db:"scheduled_for"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// OrderItem is a line on an inbound order.
type OrderItem struct {
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	IsAlcohol      bool   `json:"is_alcohol"`
}

// Inbound order statuses.
const (
	OrderStatusReceived  = "received"
	OrderStatusAccepted  = "accepted"
	OrderStatusPreparing = "preparing"
	OrderStatusEnRoute   = "en_route"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// ValidOrderStatus reports whether s is a recognised order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusReceived, OrderStatusAccepted, OrderStatusPreparing,
		OrderStatusEnRoute, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}
