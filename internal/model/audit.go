package model

import "time"

// APIAuditLog is one journaled request made with an API key.
type APIAuditLog struct {
	ID             string    `json:"id" db:"id"`
	APIKeyID       *string   `json:"api_key_id,omitempty" db:"api_key_id"`
	Method         string    `json:"method" db:"method"`
	Path           string    `json:"path" db:"path"`
	StatusCode     int       `json:"status_code" db:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
