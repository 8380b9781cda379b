package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/approval"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/chat"
	"github.com/haasonsaas/steward/internal/sessions"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

type scriptedProvider struct {
	scripts [][]*agent.CompletionChunk
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.calls >= len(p.scripts) {
		return nil, fmt.Errorf("unexpected model request %d", p.calls+1)
	}
	script := p.scripts[p.calls]
	p.calls++
	out := make(chan *agent.CompletionChunk, len(script))
	for _, chunk := range script {
		out <- chunk
	}
	close(out)
	return out, nil
}

type pingTool struct {
	risk models.RiskLevel
}

func (p *pingTool) Name() string            { return "ping" }
func (p *pingTool) Description() string     { return "pings" }
func (p *pingTool) Schema() json.RawMessage { return json.RawMessage(`{"type": "object"}`) }
func (p *pingTool) Risk() models.RiskLevel  { return p.risk }
func (p *pingTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: "pong"}, nil
}

func newTestServer(t *testing.T, risk models.RiskLevel, scripts ...[]*agent.CompletionChunk) *httptest.Server {
	t.Helper()

	registry := tools.NewRegistry()
	if err := registry.Register(&pingTool{risk: risk}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	sessionStore := sessions.NewMemoryStore()
	approvalStore := approval.NewMemoryStore()
	auditor := audit.NewMemorySink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	controller := agent.NewController(
		&scriptedProvider{scripts: scripts},
		registry,
		tools.NewExecutor(registry, nil),
		sessionStore,
		approvalStore,
		auditor,
		nil,
		logger,
		nil,
	)
	chatService := chat.NewService(controller, sessionStore, approvalStore, auditor, nil, logger, &chat.Config{
		TurnTimeout: 5 * time.Second,
	})

	server := NewServer(nil, chatService, auditor, nil, logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, user string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp, decoded
}

func createSession(t *testing.T, ts *httptest.Server, user string) string {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/sessions", user, `{"title": "test"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create session body = %+v", body)
	}
	return id
}

// readSSE collects decoded chunks from an SSE response until the done event.
func readSSE(t *testing.T, resp *http.Response) []*agent.StreamChunk {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	var chunks []*agent.StreamChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			return chunks
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && data != "{}" {
			var chunk agent.StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				t.Fatalf("bad SSE frame %q: %v", data, err)
			}
			chunks = append(chunks, &chunk)
		}
	}
	t.Fatal("stream ended without done event")
	return nil
}

func TestRequiresUserHeader(t *testing.T) {
	ts := newTestServer(t, models.RiskLow)

	resp, body := doJSON(t, ts, http.MethodGet, "/sessions", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Errorf("body = %+v, want error message", body)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, models.RiskLow)

	resp, body := doJSON(t, ts, http.MethodGet, "/healthz", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %+v", resp.StatusCode, body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, models.RiskLow)
	id := createSession(t, ts, "user-1")

	resp, body := doJSON(t, ts, http.MethodGet, "/sessions/"+id, "user-1", "")
	if resp.StatusCode != http.StatusOK || body["id"] != id {
		t.Errorf("get session = %d %+v", resp.StatusCode, body)
	}

	// Another user cannot see it.
	resp, _ = doJSON(t, ts, http.MethodGet, "/sessions/"+id, "user-2", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user get status = %d, want 404", resp.StatusCode)
	}

	resp, body = doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/archive", "user-1", "")
	if resp.StatusCode != http.StatusOK || body["archived"] != true {
		t.Errorf("archive = %d %+v", resp.StatusCode, body)
	}

	// Archived sessions reject new messages.
	resp, _ = doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/messages", "user-1", `{"text": "hi"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("message to archived session status = %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/sessions", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if list, _ := body["sessions"].([]any); len(list) != 0 {
		t.Errorf("default list includes archived session: %+v", list)
	}
}

func TestSendMessageStreams(t *testing.T) {
	ts := newTestServer(t, models.RiskLow,
		[]*agent.CompletionChunk{
			{Text: "Hi "},
			{Text: "there."},
			{Done: true},
		},
	)
	id := createSession(t, ts, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/messages", "user-1", `{"text": "hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	chunks := readSSE(t, resp)

	var text string
	for _, chunk := range chunks {
		if chunk.Type == agent.ChunkAssistant {
			text += chunk.Content
		}
	}
	if text != "Hi there." {
		t.Errorf("streamed text = %q", text)
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, models.RiskHigh,
		[]*agent.CompletionChunk{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "ping", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		[]*agent.CompletionChunk{
			{Text: "Approved and done."},
			{Done: true},
		},
	)
	id := createSession(t, ts, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/messages", "user-1", `{"text": "ping it"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var token string
	for _, chunk := range readSSE(t, resp) {
		if chunk.Type == agent.ChunkApprovalRequired {
			token = chunk.Approval.Token
		}
	}
	if token == "" {
		t.Fatal("no approval token streamed")
	}

	resp, body := doJSON(t, ts, http.MethodGet, "/sessions/"+id+"/approvals", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list approvals status = %d", resp.StatusCode)
	}
	if list, _ := body["approvals"].([]any); len(list) != 1 {
		t.Fatalf("approvals = %+v", body)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/approvals/"+token, "user-1", `{"decision": "approve"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decide status = %d", resp.StatusCode)
	}
	var text string
	for _, chunk := range readSSE(t, resp) {
		if chunk.Type == agent.ChunkAssistant {
			text += chunk.Content
		}
	}
	if text != "Approved and done." {
		t.Errorf("resumed text = %q", text)
	}
}

func TestDecideApprovalValidation(t *testing.T) {
	ts := newTestServer(t, models.RiskLow)
	id := createSession(t, ts, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/approvals/some-token", "user-1", `{"decision": "maybe"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSendMessageRejectsUnknownMode(t *testing.T) {
	ts := newTestServer(t, models.RiskLow)
	id := createSession(t, ts, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/messages", "user-1", `{"text": "hi", "mode": "turbo"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAuditEndpoint(t *testing.T) {
	ts := newTestServer(t, models.RiskLow,
		[]*agent.CompletionChunk{
			{Text: "Hello."},
			{Done: true},
		},
	)
	id := createSession(t, ts, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/sessions/"+id+"/messages", "user-1", `{"text": "hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	readSSE(t, resp)

	resp, body := doJSON(t, ts, http.MethodGet, "/admin/audit?session_id="+id, "admin", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status = %d", resp.StatusCode)
	}
	records, _ := body["records"].([]any)
	if len(records) != 2 {
		t.Errorf("audit records = %d, want user message + assistant response", len(records))
	}
}
