package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return lg
}

func TestLLMClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{
					"type": "message",
					"role": "assistant",
					"content": []map[string]any{
						{"type": "output_text", "text": "hello world"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "key", "test-model", 5*time.Second, 1, testLogger(t))
	text, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestLLMClientCompleteJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{
					"type": "message",
					"role": "assistant",
					"content": []map[string]any{
						{"type": "output_text", "text": `{"passed":true,"detail":"ok"}`},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "key", "test-model", 5*time.Second, 1, testLogger(t))
	obj, err := c.CompleteJSON(context.Background(), "sys", "user", "verdict", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("complete json: %v", err)
	}
	if obj["passed"] != true {
		t.Fatalf("unexpected result: %#v", obj)
	}
}

func TestLLMClientRetriesOn5xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{"type": "message", "role": "assistant", "content": []map[string]any{
					{"type": "output_text", "text": "recovered"},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "key", "test-model", 5*time.Second, 3, testLogger(t))
	text, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("unexpected text %q", text)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestLLMClientRefusalIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"refusal": "cannot comply"})
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "key", "test-model", 5*time.Second, 1, testLogger(t))
	if _, err := c.Complete(context.Background(), "sys", "user"); err == nil {
		t.Fatalf("expected error on refusal")
	}
}
