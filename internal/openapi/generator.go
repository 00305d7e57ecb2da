// Package openapi builds the OpenAPI document describing the gateway's HTTP
// surface.
package openapi

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/dashbite/apigw/internal/model"
)

// Auth says which credentials a route accepts.
type Auth int

const (
	AuthNone Auth = iota
	// AuthKey accepts X-API-Key alone; X-API-Secret is checked if present.
	AuthKey
	// AuthKeySecret requires X-API-Key and X-API-Secret.
	AuthKeySecret
	// AuthBearer requires an owner session token.
	AuthBearer
)

// Route describes one documented operation.
type Route struct {
	Method      string
	Path        string
	Tag         string
	Summary     string
	Auth        Auth
	Scope       model.Scope
	SuperAdmin  bool
	Request     string // component schema name of the JSON body, if any
	Response    string // component schema name of the success body
	List        bool   // Response is wrapped in a resource list
	Status      string
	QueryParams []string
}

// Routes is the gateway's public surface under /api/v1.
var Routes = []Route{
	{Method: "POST", Path: "/system/owner/session", Tag: "owners", Summary: "Log in as an owner", Request: "LoginRequest", Response: "Session", Status: "200"},
	{Method: "GET", Path: "/system/owner/session", Tag: "owners", Summary: "Current owner", Auth: AuthBearer, Response: "Owner", Status: "200"},
	{Method: "DELETE", Path: "/system/owner/session", Tag: "owners", Summary: "Log out", Auth: AuthBearer, Response: "Success", Status: "200"},
	{Method: "GET", Path: "/system/owner", Tag: "owners", Summary: "List owners", Auth: AuthBearer, SuperAdmin: true, Response: "Owner", List: true, Status: "200"},
	{Method: "POST", Path: "/system/owner", Tag: "owners", Summary: "Create an owner", Auth: AuthBearer, SuperAdmin: true, Request: "OwnerCreate", Response: "Owner", Status: "201"},

	{Method: "GET", Path: "/system/api-key", Tag: "api-keys", Summary: "List API keys", Auth: AuthBearer, Response: "APIKey", List: true, Status: "200", QueryParams: []string{"owner_id"}},
	{Method: "POST", Path: "/system/api-key", Tag: "api-keys", Summary: "Issue an API key pair", Auth: AuthBearer, Request: "APIKeyCreate", Response: "APIKeyWithSecret", Status: "201"},
	{Method: "GET", Path: "/system/api-key/{keyId}", Tag: "api-keys", Summary: "Get an API key", Auth: AuthBearer, Response: "APIKey", Status: "200"},
	{Method: "DELETE", Path: "/system/api-key/{keyId}", Tag: "api-keys", Summary: "Deactivate an API key", Auth: AuthBearer, Response: "Success", Status: "200"},
	{Method: "POST", Path: "/system/api-key/{keyId}/rotate", Tag: "api-keys", Summary: "Rotate an API key pair", Auth: AuthBearer, Response: "APIKeyWithSecret", Status: "200"},
	{Method: "PUT", Path: "/system/api-key/{keyId}/tier", Tag: "api-keys", Summary: "Change an API key's tier", Auth: AuthBearer, SuperAdmin: true, Request: "TierChange", Response: "APIKey", Status: "200"},
	{Method: "GET", Path: "/system/api-key/{keyId}/audit-logs", Tag: "api-keys", Summary: "Request journal for a key", Auth: AuthBearer, Response: "AuditLog", List: true, Status: "200", QueryParams: []string{"limit"}},
	{Method: "POST", Path: "/system/events", Tag: "events", Summary: "Publish a platform event", Auth: AuthBearer, SuperAdmin: true, Request: "Event", Response: "EventAccepted", Status: "202"},

	{Method: "GET", Path: "/restaurants", Tag: "catalog", Summary: "List restaurants", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/restaurants/{id}", Tag: "catalog", Summary: "Get a restaurant", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/restaurants/{id}/menu", Tag: "catalog", Summary: "Get a restaurant menu", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/orders/{id}", Tag: "orders", Summary: "Get an order", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/drivers", Tag: "catalog", Summary: "List drivers", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/tax", Tag: "catalog", Summary: "Quote tax", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/nfts", Tag: "catalog", Summary: "List NFTs", Auth: AuthKey, Scope: model.ScopeRead, Response: "Upstream", Status: "200"},
	{Method: "GET", Path: "/me", Tag: "api-keys", Summary: "Describe the calling key", Auth: AuthKey, Scope: model.ScopeRead, Response: "Me", Status: "200"},

	{Method: "POST", Path: "/orders/inbound", Tag: "orders", Summary: "Submit an inbound order", Auth: AuthKeySecret, Scope: model.ScopeWrite, Request: "InboundOrderCreate", Response: "InboundOrder", Status: "201"},
	{Method: "PATCH", Path: "/orders/{id}/status", Tag: "orders", Summary: "Update an inbound order's status", Auth: AuthKeySecret, Scope: model.ScopeWrite, Request: "OrderStatus", Response: "InboundOrder", Status: "200"},

	{Method: "GET", Path: "/webhooks", Tag: "webhooks", Summary: "List webhooks", Auth: AuthKeySecret, Scope: model.ScopeWebhook, Response: "Webhook", List: true, Status: "200"},
	{Method: "POST", Path: "/webhooks", Tag: "webhooks", Summary: "Subscribe a webhook", Auth: AuthKeySecret, Scope: model.ScopeWebhook, Request: "WebhookCreate", Response: "WebhookWithSecret", Status: "201"},
	{Method: "GET", Path: "/webhooks/{webhookId}", Tag: "webhooks", Summary: "Get a webhook", Auth: AuthKeySecret, Scope: model.ScopeWebhook, Response: "Webhook", Status: "200"},
	{Method: "PUT", Path: "/webhooks/{webhookId}", Tag: "webhooks", Summary: "Update a webhook", Auth: AuthKeySecret, Scope: model.ScopeWebhook, Request: "WebhookUpdate", Response: "Webhook", Status: "200"},
	{Method: "DELETE", Path: "/webhooks/{webhookId}", Tag: "webhooks", Summary: "Deactivate a webhook", Auth: AuthKeySecret, Scope: model.ScopeWebhook, Response: "Success", Status: "200"},
	{Method: "GET", Path: "/webhooks/{webhookId}/deliveries", Tag: "webhooks", Summary: "Delivery history", Auth: AuthKeySecret, Scope: model.ScopeWebhook, Response: "WebhookDelivery", List: true, Status: "200", QueryParams: []string{"limit"}},
	{Method: "POST", Path: "/callbacks/{webhookId}", Tag: "webhooks", Summary: "Verify a signed payload", Response: "CallbackAccepted", Status: "202"},

	{Method: "GET", Path: "/admin/keys", Tag: "admin", Summary: "List all API keys", Auth: AuthKeySecret, Scope: model.ScopeAdmin, Response: "APIKey", List: true, Status: "200", QueryParams: []string{"owner_id", "active"}},
	{Method: "GET", Path: "/admin/webhooks", Tag: "admin", Summary: "List all webhooks", Auth: AuthKeySecret, Scope: model.ScopeAdmin, Response: "Webhook", List: true, Status: "200", QueryParams: []string{"api_key_id"}},
	{Method: "GET", Path: "/admin/inbound-orders", Tag: "admin", Summary: "List inbound orders", Auth: AuthKeySecret, Scope: model.ScopeAdmin, Response: "InboundOrder", List: true, Status: "200", QueryParams: []string{"api_key_id", "limit"}},
	{Method: "GET", Path: "/admin/audit-logs", Tag: "admin", Summary: "List audit records", Auth: AuthKeySecret, Scope: model.ScopeAdmin, Response: "AuditLog", List: true, Status: "200", QueryParams: []string{"api_key_id", "limit"}},
}

// BasePath prefixes every route in Routes.
const BasePath = "/api/v1"

// Generate builds the OpenAPI document for the gateway.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Platform API Gateway",
			Description: "Third-party access to restaurants, orders, drivers and webhooks.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: strings.TrimRight(baseURL, "/") + BasePath},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: openapi3.NewSecurityScheme().WithType("apiKey").WithIn("header").WithName("X-API-Key"),
		},
		"apiSecret": &openapi3.SecuritySchemeRef{
			Value: openapi3.NewSecurityScheme().WithType("apiKey").WithIn("header").WithName("X-API-Secret"),
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	for _, rt := range Routes {
		item := doc.Paths.Value(rt.Path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.Path, item)
		}
		item.SetOperation(rt.Method, operation(rt, components.Schemas))
	}
	return doc
}

func operation(rt Route, schemas openapi3.Schemas) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{rt.Tag},
		Summary:     rt.Summary,
		OperationID: operationID(rt),
		Description: describeAccess(rt),
	}

	for _, name := range pathParams(rt.Path) {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
		})
	}
	for _, name := range rt.QueryParams {
		s := openapi3.NewStringSchema()
		if name == "limit" {
			s = openapi3.NewIntegerSchema()
		}
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter(name).WithSchema(s),
		})
	}

	switch rt.Auth {
	case AuthKey:
		op.Security = &openapi3.SecurityRequirements{{"apiKey": {}}, {"apiKey": {}, "apiSecret": {}}}
	case AuthKeySecret:
		op.Security = &openapi3.SecurityRequirements{{"apiKey": {}, "apiSecret": {}}}
	case AuthBearer:
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	default:
		op.Security = &openapi3.SecurityRequirements{}
	}

	if rt.Request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(ref(rt.Request, schemas)),
		}
	}

	success := ref(rt.Response, schemas)
	if rt.List {
		items := openapi3.NewArraySchema()
		items.Items = success
		success = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("resource", items).
			WithPropertyRef("meta", ref("ListMeta", schemas)))
	}
	op.Responses = newResponses(rt, success, schemas)
	return op
}

func newResponses(rt Route, success *openapi3.SchemaRef, schemas openapi3.Schemas) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(rt.Status, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Success").WithJSONSchemaRef(success),
	})

	errorRef := ref("ErrorResponse", schemas)
	add := func(code, desc string) {
		responses.Set(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(desc).WithJSONSchemaRef(errorRef),
		})
	}
	if rt.Request != "" || len(rt.QueryParams) > 0 {
		add("400", "Invalid request")
	}
	switch rt.Auth {
	case AuthKey, AuthKeySecret:
		add("401", "Missing or invalid credentials")
		add("403", "Key inactive, expired or lacking scope")
		add("429", "Rate limit exceeded")
	case AuthBearer:
		add("401", "Missing or invalid session token")
		if rt.SuperAdmin {
			add("403", "Super admin access required")
		}
	default:
		if strings.HasPrefix(rt.Path, "/callbacks/") {
			add("401", "Invalid signature")
		}
	}
	if strings.Contains(rt.Path, "{") && !strings.HasPrefix(rt.Path, "/callbacks/") {
		add("404", "Not found")
	}
	if rt.Response == "Upstream" {
		add("502", "Core service unavailable")
	}
	if rt.Path == "/orders/inbound" {
		add("409", "Duplicate external_id")
		add("422", "Alcohol outside the delivery window")
	}
	add("500", "Internal server error")
	return responses
}

func describeAccess(rt Route) string {
	switch rt.Auth {
	case AuthKey, AuthKeySecret:
		secret := "The public key alone is accepted."
		if rt.Auth == AuthKeySecret {
			secret = "Requires the API secret."
		}
		return fmt.Sprintf("%s Requires scope: %s.", secret, rt.Scope)
	case AuthBearer:
		if rt.SuperAdmin {
			return "Requires a super admin session."
		}
		return "Requires an owner session."
	}
	return ""
}

func operationID(rt Route) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(rt.Method))
	for _, seg := range strings.Split(strings.Trim(rt.Path, "/"), "/") {
		seg = strings.Trim(seg, "{}")
		for _, part := range strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' }) {
			b.WriteString(capitalize(part))
		}
	}
	return b.String()
}

func pathParams(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, seg[1:len(seg)-1])
		}
	}
	return out
}

// ref points at a component schema while carrying its value, so the
// document validates without a loader pass.
func ref(name string, schemas openapi3.Schemas) *openapi3.SchemaRef {
	s, ok := schemas[name]
	if !ok {
		panic("openapi: unknown component schema " + name)
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, s.Value)
}

// capitalize uppercases the first letter of a string.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
