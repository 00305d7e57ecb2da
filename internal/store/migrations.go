package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_active {bool} NOT NULL,
			is_super_admin {bool} NOT NULL,
			last_login_at {ts} NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL REFERENCES owners(id),
			name VARCHAR(255) NOT NULL,
			public_key VARCHAR(64) UNIQUE NOT NULL,
			secret_hash VARCHAR(255) NOT NULL,
			tier VARCHAR(32) NOT NULL,
			is_sandbox {bool} NOT NULL,
			is_active {bool} NOT NULL,
			rate_limit INTEGER NOT NULL,
			permissions INTEGER NOT NULL,
			daily_requests {bigint} NOT NULL,
			last_reset_at {ts} NOT NULL,
			last_used_at {ts} NULL,
			expires_at {ts} NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhooks (
			id VARCHAR(36) PRIMARY KEY,
			api_key_id VARCHAR(36) NOT NULL REFERENCES api_keys(id),
			url VARCHAR(2048) NOT NULL,
			events_json TEXT NOT NULL,
			secret VARCHAR(128) NOT NULL,
			is_active {bool} NOT NULL,
			failure_count INTEGER NOT NULL,
			last_delivered_at {ts} NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id VARCHAR(36) PRIMARY KEY,
			webhook_id VARCHAR(36) NOT NULL REFERENCES webhooks(id),
			event VARCHAR(64) NOT NULL,
			payload TEXT NOT NULL,
			response_status INTEGER NOT NULL,
			response_body TEXT NOT NULL,
			success {bool} NOT NULL,
			attempt INTEGER NOT NULL,
			delivered_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_audit_logs (
			id VARCHAR(36) PRIMARY KEY,
			api_key_id VARCHAR(36) NULL REFERENCES api_keys(id),
			method VARCHAR(16) NOT NULL,
			path VARCHAR(2048) NOT NULL,
			status_code INTEGER NOT NULL,
			response_time_ms {bigint} NOT NULL,
			ip_address VARCHAR(64) NOT NULL,
			user_agent VARCHAR(512) NOT NULL,
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS inbound_orders (
			id VARCHAR(36) PRIMARY KEY,
			api_key_id VARCHAR(36) NOT NULL REFERENCES api_keys(id),
			external_id VARCHAR(255) NOT NULL,
			restaurant_id VARCHAR(255) NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			delivery_address VARCHAR(1024) NOT NULL,
			items_json TEXT NOT NULL,
			contains_alcohol {bool} NOT NULL,
			total_cents {bigint} NOT NULL,
			status VARCHAR(32) NOT NULL,
			scheduled_for {ts} NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE INDEX idx_api_keys_owner ON api_keys(owner_id)`,
		`CREATE INDEX idx_webhooks_api_key ON webhooks(api_key_id)`,
		`CREATE INDEX idx_webhook_deliveries_webhook ON webhook_deliveries(webhook_id, delivered_at)`,
		`CREATE INDEX idx_api_audit_logs_key ON api_audit_logs(api_key_id, created_at)`,
		`CREATE INDEX idx_inbound_orders_key ON inbound_orders(api_key_id, created_at)`,
		`CREATE UNIQUE INDEX idx_inbound_orders_external ON inbound_orders(api_key_id, external_id)`,
	}

	for _, m := range migrations {
		stmt := s.dialect.render(m)
		if _, err := s.db.Exec(stmt); err != nil {
			// Re-running index creation fails on every backend once the index
			// exists; treat that as a no-op so migrations stay idempotent.
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate key name") ||
		strings.Contains(msg, "duplicate column")
}
