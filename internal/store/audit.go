package store

import (
	"context"
	"fmt"

	"github.com/dashbite/apigw/internal/model"
)

// CreateAuditLog appends an audit record. ID and CreatedAt (when zero) are
// populated on entry.
func (s *Store) CreateAuditLog(ctx context.Context, entry *model.APIAuditLog) error {
	entry.ID = newID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	const q = `INSERT INTO api_audit_logs
		(id, api_key_id, method, path, status_code, response_time_ms, ip_address, user_agent, created_at)
		VALUES
		(:id, :api_key_id, :method, :path, :status_code, :response_time_ms, :ip_address, :user_agent, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, entry); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns audit records newest first. An empty apiKeyID lists
// records for every key.
func (s *Store) ListAuditLogs(ctx context.Context, apiKeyID string, limit int) ([]model.APIAuditLog, error) {
	logs := []model.APIAuditLog{}
	var err error
	if apiKeyID == "" {
		err = s.db.SelectContext(ctx, &logs,
			s.q("SELECT * FROM api_audit_logs ORDER BY created_at DESC, id DESC LIMIT ?"), limit)
	} else {
		err = s.db.SelectContext(ctx, &logs,
			s.q("SELECT * FROM api_audit_logs WHERE api_key_id = ? ORDER BY created_at DESC, id DESC LIMIT ?"),
			apiKeyID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}
