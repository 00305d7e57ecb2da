package openapi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestGenerate_Validates(t *testing.T) {
	doc := Generate("http://localhost:8080/", "test")
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("generated document is invalid: %v", err)
	}
	if got := doc.Servers[0].URL; got != "http://localhost:8080/api/v1" {
		t.Errorf("server URL = %q", got)
	}
}

func TestGenerate_CoversEveryRoute(t *testing.T) {
	doc := Generate("http://localhost:8080", "test")

	ids := map[string]bool{}
	for _, rt := range Routes {
		item := doc.Paths.Value(rt.Path)
		if item == nil {
			t.Errorf("missing path %s", rt.Path)
			continue
		}
		op := item.GetOperation(rt.Method)
		if op == nil {
			t.Errorf("missing operation %s %s", rt.Method, rt.Path)
			continue
		}
		if ids[op.OperationID] {
			t.Errorf("duplicate operationId %q", op.OperationID)
		}
		ids[op.OperationID] = true

		if rt.Request != "" && op.RequestBody == nil {
			t.Errorf("%s %s: missing request body", rt.Method, rt.Path)
		}
		if op.Responses.Value(rt.Status) == nil {
			t.Errorf("%s %s: missing %s response", rt.Method, rt.Path, rt.Status)
		}
	}
}

func TestGenerate_Security(t *testing.T) {
	doc := Generate("http://localhost:8080", "test")

	tests := []struct {
		method, path string
		wantSchemes  []string
	}{
		{"GET", "/restaurants", []string{"apiKey"}},
		{"POST", "/orders/inbound", []string{"apiKey", "apiSecret"}},
		{"GET", "/admin/audit-logs", []string{"apiKey", "apiSecret"}},
		{"POST", "/system/api-key", []string{"bearerAuth"}},
	}
	for _, tc := range tests {
		op := doc.Paths.Value(tc.path).GetOperation(tc.method)
		if op.Security == nil || len(*op.Security) == 0 {
			t.Errorf("%s %s: no security requirement", tc.method, tc.path)
			continue
		}
		first := (*op.Security)[0]
		for _, s := range tc.wantSchemes {
			if _, ok := first[s]; !ok {
				t.Errorf("%s %s: first requirement lacks %s", tc.method, tc.path, s)
			}
		}
		if len(first) != len(tc.wantSchemes) {
			t.Errorf("%s %s: requirement = %v, want %v", tc.method, tc.path, first, tc.wantSchemes)
		}
	}

	// Signature callbacks carry no credentials.
	op := doc.Paths.Value("/callbacks/{webhookId}").GetOperation("POST")
	if op.Security == nil || len(*op.Security) != 0 {
		t.Errorf("callback security = %v, want explicit none", op.Security)
	}
	if op.Responses.Value("401") == nil || op.Responses.Value("404") != nil {
		t.Errorf("callback should document 401 and not 404")
	}
}

func TestGenerate_ErrorResponses(t *testing.T) {
	doc := Generate("http://localhost:8080", "test")

	op := doc.Paths.Value("/orders/inbound").GetOperation("POST")
	for _, code := range []string{"400", "401", "403", "409", "422", "429"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("POST /orders/inbound: missing %s", code)
		}
	}
	if doc.Paths.Value("/restaurants").GetOperation("GET").Responses.Value("502") == nil {
		t.Error("proxied read lacks 502")
	}
}

func TestGenerate_MarshalsRefs(t *testing.T) {
	doc := Generate("http://localhost:8080", "test")
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"$ref":"#/components/schemas/ErrorResponse"`) {
		t.Error("error responses are not emitted as component references")
	}

	var roundTrip openapi3.T
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if roundTrip.Components.Schemas["InboundOrderCreate"] == nil {
		t.Error("InboundOrderCreate schema missing after round trip")
	}
}

func TestOperationID(t *testing.T) {
	tests := []struct {
		rt   Route
		want string
	}{
		{Route{Method: "GET", Path: "/system/api-key/{keyId}/audit-logs"}, "getSystemApiKeyKeyIdAuditLogs"},
		{Route{Method: "POST", Path: "/orders/inbound"}, "postOrdersInbound"},
		{Route{Method: "PATCH", Path: "/orders/{id}/status"}, "patchOrdersIdStatus"},
	}
	for _, tc := range tests {
		if got := operationID(tc.rt); got != tc.want {
			t.Errorf("operationID(%s %s) = %q, want %q", tc.rt.Method, tc.rt.Path, got, tc.want)
		}
	}
}
