package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brainbank/osce/internal/secrets"
)

type fakeAPI struct {
	statuses []string
	retrieve atomic.Int32
	prompt   atomic.Value
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads/runs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AssistantID string `json:"assistant_id"`
			Thread      struct {
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			} `json:"thread"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode run request: %v", err)
		}
		if req.AssistantID != "asst_1" {
			t.Errorf("assistant_id = %q, want asst_1", req.AssistantID)
		}
		if len(req.Thread.Messages) == 1 {
			f.prompt.Store(req.Thread.Messages[0].Content)
		}
		writeJSON(w, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "queued"})
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.retrieve.Add(1)) - 1
		status := f.statuses[min(n, len(f.statuses)-1)]
		run := map[string]any{"id": "run_1", "thread_id": "thread_1", "status": status}
		if status == "failed" {
			run["last_error"] = map[string]any{"code": "server_error", "message": "model overloaded"}
		}
		writeJSON(w, run)
	})
	mux.HandleFunc("GET /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("order = %q, want desc", got)
		}
		writeJSON(w, map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{"id": "m2", "role": "assistant", "content": []any{
					map[string]any{"type": "text", "text": map[string]any{"value": "Focus on management.", "annotations": []any{}}},
				}},
				map[string]any{"id": "m1", "role": "user", "content": []any{
					map[string]any{"type": "text", "text": map[string]any{"value": "question", "annotations": []any{}}},
				}},
			},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := New(secrets.Config{OpenAIKey: "test", OpenAIURL: srv.URL + "/v1", AssistantID: "asst_1"})
	if c == nil {
		t.Fatal("New() = nil with complete config")
	}
	c.pollInitial = time.Millisecond
	c.pollMax = 5 * time.Millisecond
	c.maxWait = 2 * time.Second
	return c
}

func TestAsk(t *testing.T) {
	f := &fakeAPI{statuses: []string{"queued", "in_progress", "completed"}}
	c := newTestClient(t, f)

	got, err := c.Ask(context.Background(), "How am I doing?", map[string]any{"overallScore": 7.5})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "Focus on management." {
		t.Errorf("Ask() = %q, want Focus on management.", got)
	}
	if n := f.retrieve.Load(); n != 3 {
		t.Errorf("RetrieveRun calls = %d, want 3", n)
	}
	prompt, _ := f.prompt.Load().(string)
	if !strings.HasPrefix(prompt, "User Question: How am I doing?\n\nPerformance Context: {") {
		t.Errorf("prompt = %q", prompt)
	}
	if !strings.Contains(prompt, `"overallScore": 7.5`) {
		t.Errorf("prompt missing indented performance context: %q", prompt)
	}
}

func TestAskFailedRun(t *testing.T) {
	f := &fakeAPI{statuses: []string{"in_progress", "failed"}}
	c := newTestClient(t, f)

	_, err := c.Ask(context.Background(), "q", nil)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("Ask() error = %v, want failed run", err)
	}
	if n := f.retrieve.Load(); n != 2 {
		t.Errorf("RetrieveRun calls = %d, want 2 (no retry after failure)", n)
	}
}

func TestAskStuckRun(t *testing.T) {
	for _, status := range []string{"requires_action", "incomplete"} {
		t.Run(status, func(t *testing.T) {
			f := &fakeAPI{statuses: []string{"in_progress", status}}
			c := newTestClient(t, f)
			c.maxWait = time.Minute

			start := time.Now()
			_, err := c.Ask(context.Background(), "q", nil)
			if err == nil || !strings.Contains(err.Error(), status) {
				t.Fatalf("Ask() error = %v, want %s run", err, status)
			}
			if n := f.retrieve.Load(); n != 2 {
				t.Errorf("RetrieveRun calls = %d, want 2 (no retry after %s)", n, status)
			}
			if d := time.Since(start); d > 10*time.Second {
				t.Errorf("Ask() took %v, want an immediate failure", d)
			}
		})
	}
}

func TestAskTimesOut(t *testing.T) {
	f := &fakeAPI{statuses: []string{"in_progress"}}
	c := newTestClient(t, f)
	c.maxWait = 30 * time.Millisecond

	if _, err := c.Ask(context.Background(), "q", nil); err == nil {
		t.Fatal("Ask() should give up on a run that never finishes")
	}
}

func TestUnavailable(t *testing.T) {
	tests := []struct {
		name string
		cfg  secrets.Config
	}{
		{"empty", secrets.Config{}},
		{"no assistant", secrets.Config{OpenAIKey: "k"}},
		{"no key", secrets.Config{AssistantID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.cfg)
			if c != nil {
				t.Fatalf("New() = %v, want nil", c)
			}
			if _, err := c.Ask(context.Background(), "q", nil); !errors.Is(err, ErrUnavailable) {
				t.Errorf("Ask() error = %v, want ErrUnavailable", err)
			}
		})
	}
}
