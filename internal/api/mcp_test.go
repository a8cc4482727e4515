package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/orchestrator"
	"github.com/tendaro/tendaro/internal/storage"
)

func newTestMCPDeps(t *testing.T, turns TurnHandler) MCPDeps {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.ReplaceTenantBundle("halal-house", storage.TenantBundle{Name: "Halal House"}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	return MCPDeps{Store: s, Turns: turns}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Ask(t *testing.T) {
	var gotReq orchestrator.TurnRequest
	turns := &mockTurns{
		handleFn: func(_ context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
			gotReq = req
			return dialog.Answered("CHICK_WINGS_1KG is £4.50 and currently in stock.", []dialog.Fact{
				{Key: "catalog.price.CHICK_WINGS_1KG", Value: "4.50"},
			}), nil
		},
	}
	deps := newTestMCPDeps(t, turns)
	handler := mcpAsk(deps)

	req := makeCallToolRequest("ask", map[string]interface{}{
		"tenant": "halal-house",
		"text":   "how much are the wings?",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if gotReq.TenantKey != "halal-house" {
		t.Errorf("tenant = %q, want %q", gotReq.TenantKey, "halal-house")
	}
	if gotReq.SessionID == "" {
		t.Error("expected a generated session id")
	}

	var parsed struct {
		SessionID string   `json:"session_id"`
		Outcome   string   `json:"outcome"`
		Text      string   `json:"text"`
		ClaimKeys []string `json:"claim_keys"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatalf("parsing tool output: %v", err)
	}
	if parsed.Outcome != "answered" {
		t.Errorf("outcome = %q, want answered", parsed.Outcome)
	}
	if !strings.Contains(parsed.Text, "£4.50") {
		t.Errorf("text = %q, want the price kept", parsed.Text)
	}
	if len(parsed.ClaimKeys) != 1 || parsed.ClaimKeys[0] != "catalog.price.CHICK_WINGS_1KG" {
		t.Errorf("claim_keys = %v, want the backing claim key", parsed.ClaimKeys)
	}
}

func TestMCPTool_AskMissingArgs(t *testing.T) {
	turns := &mockTurns{
		handleFn: func(_ context.Context, _ orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
			t.Fatal("handler should not run without required args")
			return dialog.TurnOutcome{}, nil
		},
	}
	deps := newTestMCPDeps(t, turns)
	handler := mcpAsk(deps)

	req := makeCallToolRequest("ask", map[string]interface{}{"tenant": "halal-house"})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing text argument")
	}
}

func TestMCPTool_LookupDelivery(t *testing.T) {
	turns := &mockTurns{
		handleFn: func(_ context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error) {
			if !strings.Contains(req.Text, "E1 6AN") {
				t.Errorf("turn text = %q, want it to carry the postcode", req.Text)
			}
			return dialog.Answered("We deliver to E16AN. Delivery is fee £0.00.", nil), nil
		},
	}
	deps := newTestMCPDeps(t, turns)
	handler := mcpLookupDelivery(deps)

	req := makeCallToolRequest("lookup_delivery", map[string]interface{}{
		"tenant":   "halal-house",
		"postcode": "E1 6AN",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); !strings.Contains(got, "E16AN") {
		t.Errorf("tool text = %q, want the delivery answer", got)
	}
}

func TestMCPResource_Tenants(t *testing.T) {
	deps := newTestMCPDeps(t, &mockTurns{})
	handler := mcpResourceTenants(deps)

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "tendaro://tenants"},
	}
	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var tenants []struct {
		Key     string `json:"key"`
		Name    string `json:"name"`
		Version int64  `json:"snapshot_version"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &tenants); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(tenants) != 1 || tenants[0].Key != "halal-house" || tenants[0].Version != 1 {
		t.Errorf("tenants = %+v, want halal-house at snapshot v1", tenants)
	}
}
