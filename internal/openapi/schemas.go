package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/dashbite/apigw/internal/model"
)

func str() *openapi3.Schema      { return openapi3.NewStringSchema() }
func dateTime() *openapi3.Schema { return openapi3.NewDateTimeSchema() }
func boolean() *openapi3.Schema  { return openapi3.NewBoolSchema() }
func int64s() *openapi3.Schema   { return openapi3.NewInt64Schema() }
func strList() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
}

func enum(values ...string) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return s
}

func object(required []string, props map[string]*openapi3.Schema) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	for name, p := range props {
		s.WithProperty(name, p)
	}
	if len(required) > 0 {
		s.Required = required
	}
	return openapi3.NewSchemaRef("", s)
}

func tierNames() []string {
	out := make([]string, len(model.Tiers))
	for i, t := range model.Tiers {
		out[i] = string(t)
	}
	return out
}

func scopeList() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(enum(model.AllScopes.Names()...))
}

// componentSchemas returns the named request and response bodies.
func componentSchemas() openapi3.Schemas {
	orderItem := object([]string{"name", "quantity", "unit_price_cents"}, map[string]*openapi3.Schema{
		"name":             str(),
		"quantity":         openapi3.NewIntegerSchema().WithMin(1),
		"unit_price_cents": int64s().WithMin(0),
		"is_alcohol":       boolean(),
	}).Value
	orderStatus := enum(model.OrderStatusReceived, model.OrderStatusAccepted, model.OrderStatusPreparing,
		model.OrderStatusEnRoute, model.OrderStatusDelivered, model.OrderStatusCancelled)

	apiKey := map[string]*openapi3.Schema{
		"id":             str(),
		"owner_id":       str(),
		"name":           str(),
		"public_key":     str(),
		"tier":           enum(tierNames()...),
		"is_sandbox":     boolean(),
		"is_active":      boolean(),
		"rate_limit":     openapi3.NewIntegerSchema(),
		"permissions":    scopeList(),
		"daily_requests": int64s(),
		"last_reset_at":  dateTime(),
		"last_used_at":   dateTime(),
		"expires_at":     dateTime(),
		"created_at":     dateTime(),
		"updated_at":     dateTime(),
	}
	withSecret := func(base map[string]*openapi3.Schema) map[string]*openapi3.Schema {
		out := map[string]*openapi3.Schema{"secret": str()}
		for k, v := range base {
			out[k] = v
		}
		return out
	}

	webhook := map[string]*openapi3.Schema{
		"id":                str(),
		"api_key_id":        str(),
		"url":               openapi3.NewStringSchema().WithFormat("uri"),
		"events":            openapi3.NewArraySchema().WithItems(enum(model.KnownEvents...)),
		"is_active":         boolean(),
		"failure_count":     openapi3.NewIntegerSchema(),
		"last_delivered_at": dateTime(),
		"created_at":        dateTime(),
		"updated_at":        dateTime(),
	}

	return openapi3.Schemas{
		"ErrorResponse": object([]string{"error"}, map[string]*openapi3.Schema{
			"error": object([]string{"code", "type", "message"}, map[string]*openapi3.Schema{
				"code":    openapi3.NewInt32Schema(),
				"type":    str(),
				"message": str(),
				"context": openapi3.NewObjectSchema(),
			}).Value,
		}),
		"ListMeta": object(nil, map[string]*openapi3.Schema{
			"count": openapi3.NewIntegerSchema(),
			"limit": openapi3.NewIntegerSchema(),
		}),
		"Success": object(nil, map[string]*openapi3.Schema{
			"success": boolean(),
			"message": str(),
			"id":      str(),
		}),
		"Upstream": openapi3.NewSchemaRef("", &openapi3.Schema{Description: "Core service response, relayed unchanged."}),

		"LoginRequest": object([]string{"email", "password"}, map[string]*openapi3.Schema{
			"email":    openapi3.NewStringSchema().WithFormat("email"),
			"password": openapi3.NewStringSchema().WithFormat("password"),
		}),
		"Session": object(nil, map[string]*openapi3.Schema{
			"session_token":  str(),
			"token_type":     str(),
			"expires_in":     openapi3.NewIntegerSchema(),
			"owner_id":       str(),
			"email":          str(),
			"name":           str(),
			"is_super_admin": boolean(),
		}),
		"Owner": object(nil, map[string]*openapi3.Schema{
			"id":             str(),
			"email":          str(),
			"name":           str(),
			"is_active":      boolean(),
			"is_super_admin": boolean(),
			"last_login_at":  dateTime(),
			"created_at":     dateTime(),
			"updated_at":     dateTime(),
		}),
		"OwnerCreate": object([]string{"email", "password"}, map[string]*openapi3.Schema{
			"email":          openapi3.NewStringSchema().WithFormat("email"),
			"name":           str(),
			"password":       openapi3.NewStringSchema().WithMinLength(8),
			"is_super_admin": boolean(),
		}),

		"APIKey":           object(nil, apiKey),
		"APIKeyWithSecret": object(nil, withSecret(apiKey)),
		"APIKeyCreate": object([]string{"name"}, map[string]*openapi3.Schema{
			"name":       str(),
			"tier":       enum(tierNames()...),
			"sandbox":    boolean(),
			"expires_at": dateTime(),
			"owner_id":   str(),
		}),
		"TierChange": object([]string{"tier"}, map[string]*openapi3.Schema{
			"tier":        enum(tierNames()...),
			"grant_admin": boolean(),
		}),
		"Me": object(nil, map[string]*openapi3.Schema{
			"id":              str(),
			"name":            str(),
			"tier":            enum(tierNames()...),
			"scopes":          scopeList(),
			"is_sandbox":      boolean(),
			"rate_limit":      openapi3.NewIntegerSchema(),
			"daily_limit":     int64s(),
			"daily_requests":  int64s(),
			"remaining":       int64s(),
			"reset_at":        dateTime(),
			"secret_verified": boolean(),
			"expires_at":      dateTime(),
		}),
		"AuditLog": object(nil, map[string]*openapi3.Schema{
			"id":               str(),
			"api_key_id":       str(),
			"method":           str(),
			"path":             str(),
			"status_code":      openapi3.NewIntegerSchema(),
			"response_time_ms": int64s(),
			"ip_address":       str(),
			"user_agent":       str(),
			"created_at":       dateTime(),
		}),

		"Event": object([]string{"event"}, map[string]*openapi3.Schema{
			"event": enum(model.KnownEvents[:len(model.KnownEvents)-1]...),
			"data":  openapi3.NewSchema(),
		}),
		"EventAccepted": object(nil, map[string]*openapi3.Schema{
			"event":     str(),
			"scheduled": openapi3.NewIntegerSchema(),
		}),

		"InboundOrderCreate": object([]string{"external_id", "restaurant_id", "customer_name", "delivery_address", "items"}, map[string]*openapi3.Schema{
			"external_id":      str(),
			"restaurant_id":    str(),
			"customer_name":    str(),
			"delivery_address": str(),
			"items":            openapi3.NewArraySchema().WithItems(orderItem).WithMinItems(1),
			"scheduled_for":    dateTime(),
		}),
		"InboundOrder": object(nil, map[string]*openapi3.Schema{
			"id":               str(),
			"api_key_id":       str(),
			"external_id":      str(),
			"restaurant_id":    str(),
			"customer_name":    str(),
			"delivery_address": str(),
			"items":            openapi3.NewArraySchema().WithItems(orderItem),
			"contains_alcohol": boolean(),
			"total_cents":      int64s(),
			"status":           orderStatus,
			"scheduled_for":    dateTime(),
			"created_at":       dateTime(),
			"updated_at":       dateTime(),
		}),
		"OrderStatus": object([]string{"status"}, map[string]*openapi3.Schema{
			"status": orderStatus,
		}),

		"Webhook":           object(nil, webhook),
		"WebhookWithSecret": object(nil, withSecret(webhook)),
		"WebhookCreate": object([]string{"url", "events"}, map[string]*openapi3.Schema{
			"url":    openapi3.NewStringSchema().WithFormat("uri"),
			"events": openapi3.NewArraySchema().WithItems(enum(model.KnownEvents...)).WithMinItems(1),
		}),
		"WebhookUpdate": object(nil, map[string]*openapi3.Schema{
			"url":       openapi3.NewStringSchema().WithFormat("uri"),
			"events":    openapi3.NewArraySchema().WithItems(enum(model.KnownEvents...)),
			"is_active": boolean(),
		}),
		"WebhookDelivery": object(nil, map[string]*openapi3.Schema{
			"id":              str(),
			"webhook_id":      str(),
			"event":           str(),
			"payload":         openapi3.NewObjectSchema(),
			"response_status": openapi3.NewIntegerSchema(),
			"response_body":   str(),
			"success":         boolean(),
			"attempt":         openapi3.NewIntegerSchema(),
			"delivered_at":    dateTime(),
		}),
		"CallbackAccepted": object(nil, map[string]*openapi3.Schema{
			"status":     str(),
			"webhook_id": str(),
			"event":      str(),
		}),
	}
}
