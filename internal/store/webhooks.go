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

// webhookRow maps 1:1 to the webhooks table. Events are stored as a JSON array.
type webhookRow struct {
	ID              string     `db:"id"`
	APIKeyID        string     `db:"api_key_id"`
	URL             string     `db:"url"`
	EventsJSON      string     `db:"events_json"`
	Secret          string     `db:"secret"`
	IsActive        bool       `db:"is_active"`
	FailureCount    int        `db:"failure_count"`
	LastDeliveredAt *time.Time `db:"last_delivered_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func webhookRowFromModel(w *model.Webhook) (webhookRow, error) {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return webhookRow{}, fmt.Errorf("marshal events: %w", err)
	}
	return webhookRow{
		ID:              w.ID,
		APIKeyID:        w.APIKeyID,
		URL:             w.URL,
		EventsJSON:      string(events),
		Secret:          w.Secret,
		IsActive:        w.IsActive,
		FailureCount:    w.FailureCount,
		LastDeliveredAt: w.LastDeliveredAt,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}, nil
}

func (r webhookRow) toModel() (model.Webhook, error) {
	var events []string
	if err := json.Unmarshal([]byte(r.EventsJSON), &events); err != nil {
		return model.Webhook{}, fmt.Errorf("unmarshal events: %w", err)
	}
	return model.Webhook{
		ID:              r.ID,
		APIKeyID:        r.APIKeyID,
		URL:             r.URL,
		Events:          events,
		Secret:          r.Secret,
		IsActive:        r.IsActive,
		FailureCount:    r.FailureCount,
		LastDeliveredAt: r.LastDeliveredAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func webhooksFromRows(rows []webhookRow) ([]model.Webhook, error) {
	hooks := make([]model.Webhook, 0, len(rows))
	for _, r := range rows {
		w, err := r.toModel()
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, nil
}

// ---------------------------------------------------------------------------
// Webhook CRUD
// ---------------------------------------------------------------------------

// CreateWebhook inserts a subscription. ID, CreatedAt and UpdatedAt are
// populated on w.
func (s *Store) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	now := s.now()
	w.ID = newID()
	w.CreatedAt = now
	w.UpdatedAt = now

	row, err := webhookRowFromModel(w)
	if err != nil {
		return err
	}

	const q = `INSERT INTO webhooks
		(id, api_key_id, url, events_json, secret, is_active, failure_count, last_delivered_at, created_at, updated_at)
		VALUES
		(:id, :api_key_id, :url, :events_json, :secret, :is_active, :failure_count, :last_delivered_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	var row webhookRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM webhooks WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	w, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWebhooks returns webhooks newest first. An empty apiKeyID lists every
// webhook.
func (s *Store) ListWebhooks(ctx context.Context, apiKeyID string) ([]model.Webhook, error) {
	var rows []webhookRow
	var err error
	if apiKeyID == "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM webhooks ORDER BY created_at DESC, id DESC")
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.q("SELECT * FROM webhooks WHERE api_key_id = ? ORDER BY created_at DESC, id DESC"), apiKeyID)
	}
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooksFromRows(rows)
}

// ListActiveWebhooks returns every active subscription.
func (s *Store) ListActiveWebhooks(ctx context.Context) ([]model.Webhook, error) {
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows,
		s.q("SELECT * FROM webhooks WHERE is_active = ? ORDER BY created_at, id"), true); err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	return webhooksFromRows(rows)
}

// UpdateWebhook persists the URL, event set and active flag of w.
func (s *Store) UpdateWebhook(ctx context.Context, w *model.Webhook) error {
	w.UpdatedAt = s.now()
	row, err := webhookRowFromModel(w)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE webhooks SET url = ?, events_json = ?, is_active = ?, updated_at = ? WHERE id = ?"),
		row.URL, row.EventsJSON, row.IsActive, row.UpdatedAt, row.ID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return affectedOne(result, "update webhook")
}

// DeactivateWebhook soft-deletes a webhook. Deactivating an inactive webhook
// is not an error.
func (s *Store) DeactivateWebhook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE webhooks SET is_active = ?, updated_at = ? WHERE id = ?"), false, s.now(), id)
	if err != nil {
		return fmt.Errorf("deactivate webhook: %w", err)
	}
	return affectedOne(result, "deactivate webhook")
}

// MarkWebhookDelivered resets the consecutive failure counter and stamps
// last_delivered_at.
func (s *Store) MarkWebhookDelivered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE webhooks SET failure_count = 0, last_delivered_at = ?, updated_at = ? WHERE id = ?"),
		at.UTC(), s.now(), id)
	if err != nil {
		return fmt.Errorf("mark webhook delivered: %w", err)
	}
	return affectedOne(result, "mark webhook delivered")
}

// RecordWebhookFailure increments the failure counter and deactivates the
// webhook once the counter reaches threshold. It returns the new count and
// whether the webhook is now inactive.
func (s *Store) RecordWebhookFailure(ctx context.Context, id string, threshold int) (int, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// is_active is assigned first: MySQL evaluates SET clauses left to right
	// against already-updated columns.
	const q = `UPDATE webhooks SET
		is_active = CASE WHEN failure_count + 1 >= ? THEN ? ELSE is_active END,
		failure_count = failure_count + 1,
		updated_at = ?
		WHERE id = ?`
	result, err := tx.ExecContext(ctx, tx.Rebind(q), threshold, false, s.now(), id)
	if err != nil {
		return 0, false, fmt.Errorf("record webhook failure: %w", err)
	}
	if err := affectedOne(result, "record webhook failure"); err != nil {
		return 0, false, err
	}

	var state struct {
		FailureCount int  `db:"failure_count"`
		IsActive     bool `db:"is_active"`
	}
	if err := tx.GetContext(ctx, &state,
		tx.Rebind("SELECT failure_count, is_active FROM webhooks WHERE id = ?"), id); err != nil {
		return 0, false, fmt.Errorf("read webhook failure count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit webhook failure: %w", err)
	}
	return state.FailureCount, !state.IsActive, nil
}

// ---------------------------------------------------------------------------
// Delivery history
// ---------------------------------------------------------------------------

type deliveryRow struct {
	ID             string    `db:"id"`
	WebhookID      string    `db:"webhook_id"`
	Event          string    `db:"event"`
	Payload        string    `db:"payload"`
	ResponseStatus int       `db:"response_status"`
	ResponseBody   string    `db:"response_body"`
	Success        bool      `db:"success"`
	Attempt        int       `db:"attempt"`
	DeliveredAt    time.Time `db:"delivered_at"`
}

// CreateWebhookDelivery appends one delivery attempt. ID is populated on d,
// and DeliveredAt defaults to now when zero.
func (s *Store) CreateWebhookDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	d.ID = newID()
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = s.now()
	}
	d.DeliveredAt = d.DeliveredAt.UTC()
	row := deliveryRow{
		ID:             d.ID,
		WebhookID:      d.WebhookID,
		Event:          d.Event,
		Payload:        string(d.Payload),
		ResponseStatus: d.ResponseStatus,
		ResponseBody:   d.ResponseBody,
		Success:        d.Success,
		Attempt:        d.Attempt,
		DeliveredAt:    d.DeliveredAt,
	}

	const q = `INSERT INTO webhook_deliveries
		(id, webhook_id, event, payload, response_status, response_body, success, attempt, delivered_at)
		VALUES
		(:id, :webhook_id, :event, :payload, :response_status, :response_body, :success, :attempt, :delivered_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// ListWebhookDeliveries returns delivery attempts for a webhook, newest first.
func (s *Store) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	var rows []deliveryRow
	if err := s.db.SelectContext(ctx, &rows,
		s.q("SELECT * FROM webhook_deliveries WHERE webhook_id = ? ORDER BY delivered_at DESC, id DESC LIMIT ?"),
		webhookID, limit); err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	out := make([]model.WebhookDelivery, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.WebhookDelivery{
			ID:             r.ID,
			WebhookID:      r.WebhookID,
			Event:          r.Event,
			Payload:        json.RawMessage(r.Payload),
			ResponseStatus: r.ResponseStatus,
			ResponseBody:   r.ResponseBody,
			Success:        r.Success,
			Attempt:        r.Attempt,
			DeliveredAt:    r.DeliveredAt,
		})
	}
	return out, nil
}
