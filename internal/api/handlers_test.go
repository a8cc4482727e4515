package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/orchestrator"
	"github.com/tendaro/tendaro/internal/storage"
)

type mockTurns struct {
	handleFn func(ctx context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error)
}

func (m *mockTurns) HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
	return m.handleFn(ctx, req)
}

type mockImporter struct {
	importFn func(tenantKey string, data []byte) (int64, error)
}

func (m *mockImporter) ImportJSON(tenantKey string, data []byte) (int64, error) {
	return m.importFn(tenantKey, data)
}

const testToken = "test-token-123"

func newTestHandler(t *testing.T, turns TurnHandler, importer BundleImporter) (http.Handler, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.ReplaceTenantBundle("halal-house", storage.TenantBundle{
		Name:  "Halal House",
		Items: []storage.CatalogItem{{SKU: "CHICK_WINGS_1KG", Name: "Chicken Wings 1kg", Price: 4.50, InStock: true}},
	}); err != nil {
		t.Fatalf("seeding bundle: %v", err)
	}

	return NewAppHandler(AppDeps{Store: s, Turns: turns, Importer: importer, Token: testToken}), s
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthIsUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)

	w := doRequest(t, h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)

	if w := doRequest(t, h, http.MethodGet, "/v1/tenants", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/v1/tenants", "wrong-token", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/v1/tenants", testToken, ""); w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}

func TestTurnEndpoint(t *testing.T) {
	turns := &mockTurns{
		handleFn: func(_ context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
			if req.TenantKey != "halal-house" || req.Text != "do you have chicken?" {
				t.Errorf("unexpected turn request: %+v", req)
			}
			return dialog.Answered("Here's what I found.", []dialog.Fact{
				{Key: "catalog.item.CHICK_WINGS_1KG", Value: "Chicken Wings 1kg | £4.50/kg | in stock",
					Source: dialog.SourceRef{Store: "catalog", ID: "CHICK_WINGS_1KG", Version: 1}},
			}), nil
		},
	}
	h, _ := newTestHandler(t, turns, nil)

	w := doRequest(t, h, http.MethodPost, "/v1/turn", testToken,
		`{"tenant": "halal-house", "session_id": "sess-1", "text": "do you have chicken?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp TurnResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Outcome != "answered" || resp.SessionID != "sess-1" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Facts) != 1 || resp.Facts[0].Key != "catalog.item.CHICK_WINGS_1KG" || resp.Facts[0].Version != 1 {
		t.Errorf("facts = %+v", resp.Facts)
	}
}

func TestTurnEndpointGeneratesSessionID(t *testing.T) {
	turns := &mockTurns{
		handleFn: func(_ context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
			if req.SessionID == "" {
				t.Error("handler should receive a generated session id")
			}
			return dialog.Answered("Hello!", nil), nil
		},
	}
	h, _ := newTestHandler(t, turns, nil)

	w := doRequest(t, h, http.MethodPost, "/v1/turn", testToken, `{"tenant": "halal-house", "text": "hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp TurnResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("response should echo the generated session id")
	}
}

func TestTurnEndpointValidation(t *testing.T) {
	h, _ := newTestHandler(t, &mockTurns{
		handleFn: func(context.Context, orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
			t.Fatal("handler should not be reached")
			return dialog.TurnOutcome{}, nil
		},
	}, nil)

	if w := doRequest(t, h, http.MethodPost, "/v1/turn", testToken, `{"text": "hi"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing tenant status = %d, want 400", w.Code)
	}
	if w := doRequest(t, h, http.MethodPost, "/v1/turn", testToken, `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}
}

func TestImportEndpoint(t *testing.T) {
	importer := &mockImporter{
		importFn: func(tenantKey string, data []byte) (int64, error) {
			if tenantKey != "halal-house" {
				t.Errorf("tenant = %q", tenantKey)
			}
			if !strings.Contains(string(data), "catalog") {
				t.Errorf("body not forwarded: %q", data)
			}
			return 2, nil
		},
	}
	h, _ := newTestHandler(t, nil, importer)

	w := doRequest(t, h, http.MethodPost, "/v1/tenants/halal-house/import", testToken,
		`{"catalog": [{"sku": "X_1", "name": "X", "price": 1}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"version":2`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCatalogEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)

	w := doRequest(t, h, http.MethodGet, "/v1/tenants/halal-house/catalog", testToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "CHICK_WINGS_1KG") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSetConfigEndpoint(t *testing.T) {
	h, s := newTestHandler(t, nil, nil)

	w := doRequest(t, h, http.MethodPut, "/v1/tenants/halal-house/config/mode", testToken, `{"value": "hybrid"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	cfg, err := s.GetTenantConfig("halal-house")
	if err != nil {
		t.Fatalf("GetTenantConfig: %v", err)
	}
	if cfg["mode"] != "hybrid" {
		t.Errorf("config = %v", cfg)
	}

	w = doRequest(t, h, http.MethodPut, "/v1/tenants/no-such/config/mode", testToken, `{"value": "hybrid"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown tenant status = %d, want 404", w.Code)
	}
}
