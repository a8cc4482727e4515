package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tendaro/tendaro/internal/orchestrator"
	"github.com/tendaro/tendaro/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Turns TurnHandler
}

// NewMCPServer creates an MCP server exposing the agent as a tool plus
// tenant data as resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tendaro",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tendaro — grounded storefront assistant: product, price, delivery, and opening-hours answers backed by tenant data."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the storefront assistant a question on behalf of a customer. Replies only contain verified tenant data."),
			mcp.WithString("tenant", mcp.Description("Tenant key"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The customer's message"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session id; omit to start a new session")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_delivery",
			mcp.WithDescription("Check whether a tenant delivers to a postcode and on what terms."),
			mcp.WithString("tenant", mcp.Description("Tenant key"), mcp.Required()),
			mcp.WithString("postcode", mcp.Description("UK-style postcode"), mcp.Required()),
		),
		mcpLookupDelivery(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tendaro://tenants",
			"Tenants",
			mcp.WithResourceDescription("All configured tenants as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTenants(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenant, err := req.RequireString("tenant")
		if err != nil {
			return mcpError("tenant is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		outcome, err := deps.Turns.HandleTurn(ctx, orchestrator.TurnRequest{
			TenantKey: tenant,
			SessionID: sessionID,
			Text:      text,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}

		result := map[string]any{
			"session_id": sessionID,
			"outcome":    string(outcome.Kind),
			"text":       outcome.Text,
		}
		if len(outcome.FactsUsed) > 0 {
			keys := make([]string, len(outcome.FactsUsed))
			for i, f := range outcome.FactsUsed {
				keys[i] = f.Key
			}
			result["claim_keys"] = keys
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLookupDelivery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenant, err := req.RequireString("tenant")
		if err != nil {
			return mcpError("tenant is required"), nil
		}
		postcode, err := req.RequireString("postcode")
		if err != nil {
			return mcpError("postcode is required"), nil
		}

		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		outcome, err := deps.Turns.HandleTurn(ctx, orchestrator.TurnRequest{
			TenantKey: tenant,
			SessionID: uuid.NewString(),
			Text:      "do you deliver to " + postcode,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		return mcpText(outcome.Text), nil
	}
}

func mcpResourceTenants(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tenants, err := deps.Store.ListTenants()
		if err != nil {
			return nil, fmt.Errorf("failed to list tenants: %w", err)
		}

		type tenantSummary struct {
			Key     string `json:"key"`
			Name    string `json:"name"`
			Version int64  `json:"snapshot_version"`
		}
		summaries := make([]tenantSummary, len(tenants))
		for i, t := range tenants {
			summaries[i] = tenantSummary{Key: t.Key, Name: t.Name, Version: t.SnapshotVersion}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tenants: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
