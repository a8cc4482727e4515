// Package api exposes the turn endpoint, the tenant admin surface, and
// the MCP server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/orchestrator"
	"github.com/tendaro/tendaro/internal/storage"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxImportBodySize = 10 << 20 // 10MB

// TurnHandler runs one conversational turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (dialog.TurnOutcome, error)
}

// BundleImporter replaces a tenant's data snapshot from a combined
// bundle document.
type BundleImporter interface {
	ImportJSON(tenantKey string, data []byte) (int64, error)
}

type AppDeps struct {
	Store    *storage.Store
	Turns    TurnHandler
	Importer BundleImporter
	Token    string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/turn", handleTurn(deps))

		r.Get("/v1/tenants", handleListTenants(deps))
		r.Post("/v1/tenants/{key}/import", handleImport(deps))
		r.Get("/v1/tenants/{key}/catalog", handleListCatalog(deps))
		r.Get("/v1/tenants/{key}/branches", handleListBranches(deps))
		r.Get("/v1/tenants/{key}/faqs", handleListFAQs(deps))
		r.Get("/v1/tenants/{key}/config", handleGetConfig(deps))
		r.Put("/v1/tenants/{key}/config/{cfgKey}", handleSetConfig(deps))
		r.Get("/v1/tenants/{key}/turns", handleRecentTurns(deps))
	})

	return r
}

// TurnRequestBody is the POST /v1/turn payload.
type TurnRequestBody struct {
	Tenant    string `json:"tenant"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// TurnResponseBody is the turn outcome on the wire.
type TurnResponseBody struct {
	SessionID string     `json:"session_id"`
	Outcome   string     `json:"outcome"`
	Text      string     `json:"text"`
	Question  string     `json:"question,omitempty"`
	Slot      string     `json:"slot,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
	Facts     []FactBody `json:"facts,omitempty"`
}

// FactBody is one emitted claim with its provenance.
type FactBody struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Store   string `json:"store"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func handleTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TurnRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Tenant == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant is required")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		outcome, err := deps.Turns.HandleTurn(ctx, orchestrator.TurnRequest{
			TenantKey: req.Tenant,
			SessionID: req.SessionID,
			Text:      req.Text,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "turn failed: %v", err)
			return
		}

		resp := TurnResponseBody{
			SessionID: req.SessionID,
			Outcome:   string(outcome.Kind),
			Text:      outcome.Text,
			Question:  outcome.Question,
			Slot:      string(outcome.Slot),
			Reason:    outcome.Reason,
			ErrorKind: string(outcome.ErrKind),
		}
		for _, f := range outcome.FactsUsed {
			resp.Facts = append(resp.Facts, FactBody{
				Key:     f.Key,
				Value:   f.Value,
				Store:   f.Source.Store,
				ID:      f.Source.ID,
				Version: f.Source.Version,
			})
		}
		writeJSON(w, resp)
	}
}

func handleListTenants(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenants, err := deps.Store.ListTenants()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tenants: %v", err)
			return
		}
		if tenants == nil {
			tenants = []storage.Tenant{}
		}
		writeJSON(w, tenants)
	}
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		key := chi.URLParam(r, "key")
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		version, err := deps.Importer.ImportJSON(key, data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "import failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"tenant":  key,
			"version": version,
			"status":  "reindex queued",
		})
	}
}

func handleListCatalog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Store.ListCatalogItems(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list catalog: %v", err)
			return
		}
		if items == nil {
			items = []storage.CatalogItem{}
		}
		writeJSON(w, items)
	}
}

func handleListBranches(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		branches, err := deps.Store.ListBranches(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list branches: %v", err)
			return
		}
		if branches == nil {
			branches = []storage.Branch{}
		}
		writeJSON(w, branches)
	}
}

func handleListFAQs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		faqs, err := deps.Store.ListFAQs(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list faqs: %v", err)
			return
		}
		if faqs == nil {
			faqs = []storage.FAQ{}
		}
		writeJSON(w, faqs)
	}
}

func handleGetConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := deps.Store.GetTenantConfig(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get config: %v", err)
			return
		}
		writeJSON(w, cfg)
	}
}

func handleSetConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		key := chi.URLParam(r, "key")
		cfgKey := chi.URLParam(r, "cfgKey")
		if _, err := deps.Store.GetTenant(key); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tenant not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get tenant: %v", err)
			return
		}

		if err := deps.Store.SetTenantConfig(key, cfgKey, body.Value); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set config: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleRecentTurns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		turns, err := deps.Store.RecentTurns(chi.URLParam(r, "key"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list turns: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.TurnAudit{}
		}
		writeJSON(w, turns)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
