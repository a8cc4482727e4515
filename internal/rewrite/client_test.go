package rewrite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatJSON(content string) []byte {
	b, _ := json.Marshal(chatResponse{Message: Message{Role: "assistant", Content: content}})
	return b
}

func TestClientIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "phi3.5")
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestClientIsRunning_Down(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "phi3.5")
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestClientRewrite(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		w.Write(chatJSON("  Wings are £4.50 and in stock today!  "))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "phi3.5")
	out, err := c.Rewrite(context.Background(), "CHICK_WINGS_1KG is £4.50 and currently in stock.", "warm")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if out != "Wings are £4.50 and in stock today!" {
		t.Errorf("Rewrite = %q, want trimmed model output", out)
	}
	if got.Model != "phi3.5" {
		t.Errorf("request model = %q, want %q", got.Model, "phi3.5")
	}
	if got.Stream {
		t.Error("request asked for streaming, want stream=false")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v, want system then user", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Content, "Target tone: warm.") {
		t.Errorf("system prompt missing tone profile: %q", got.Messages[0].Content)
	}
	if got.Messages[1].Content != "CHICK_WINGS_1KG is £4.50 and currently in stock." {
		t.Errorf("user message = %q, want the draft unchanged", got.Messages[1].Content)
	}
}

func TestClientRewriteNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "phi3.5")
	if _, err := c.Rewrite(context.Background(), "hello", ""); err == nil {
		t.Fatal("expected error for non-200 status, got nil")
	}
}
