package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with optional pagination metadata.
type ListResponse struct {
	Resource interface{}   `json:"resource"`
	Meta     *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta contains pagination information for list responses.
type ResponseMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Type is a stable machine-readable code; Message is for humans.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Stable error types.
const (
	ErrTypeMissingAPIKey     = "missing_api_key"
	ErrTypeInvalidAPIKey     = "invalid_api_key"
	ErrTypeAPIKeyInactive    = "api_key_inactive"
	ErrTypeAPIKeyExpired     = "api_key_expired"
	ErrTypeAPISecretRequired = "api_secret_required"
	ErrTypeInvalidAPISecret  = "invalid_api_secret"
	ErrTypeRateLimitExceeded = "rate_limit_exceeded"
	ErrTypeIPRateLimited     = "ip_rate_limited"
	ErrTypeInsufficientScope = "insufficient_scope"
	ErrTypeInvalidRequest    = "invalid_request"
	ErrTypeNotFound          = "not_found"
	ErrTypeUnauthorized      = "unauthorized"
	ErrTypeForbidden         = "forbidden"
	ErrTypeAlcoholWindow     = "alcohol_delivery_window"
	ErrTypeInvalidSignature  = "invalid_signature"
	ErrTypeUpstream          = "upstream_error"
	ErrTypeInternal          = "internal_error"
)
