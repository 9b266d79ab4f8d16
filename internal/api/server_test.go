package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatgate/chatgate/internal/auth"
	"github.com/chatgate/chatgate/internal/composer"
	"github.com/chatgate/chatgate/internal/gateway"
	"github.com/chatgate/chatgate/internal/llm"
)

// stubAuth accepts the token "good" and rejects everything else.
type stubAuth struct{}

func (stubAuth) Verify(_ context.Context, token string) (auth.User, error) {
	if token != "good" {
		return auth.User{}, auth.ErrUnauthorized
	}
	return auth.User{ID: "42"}, nil
}

type stubRetriever struct{}

func (stubRetriever) Search(context.Context, string, string) ([]composer.Snippet, error) {
	return nil, nil
}

type stubGenerator struct {
	response string
	chunks   []llm.Chunk
}

func (s stubGenerator) Generate(context.Context, string, string) (string, error) {
	return s.response, nil
}

func (s stubGenerator) GenerateStream(ctx context.Context, _, _ string) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for _, ch := range s.chunks {
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type stubChatLog struct{ entries chan [3]string }

func (s *stubChatLog) Log(userID, message, response string) {
	select {
	case s.entries <- [3]string{userID, message, response}:
	default:
	}
}

type stubPrompts struct{}

func (stubPrompts) LoadWithFallback(role string) (string, string, error) {
	if role == "" {
		role = "default"
	}
	return "You are helpful.", role, nil
}

func (stubPrompts) Available() ([]string, error) {
	return []string{"assistant", "default", "tutor"}, nil
}

func newTestHandler(gen stubGenerator) (http.Handler, *stubChatLog) {
	cl := &stubChatLog{entries: make(chan [3]string, 8)}
	orch := &gateway.Orchestrator{
		Auth:      stubAuth{},
		Retriever: stubRetriever{},
		Composer:  composer.New(4000),
		Prompts:   stubPrompts{},
		Generator: gen,
		ChatLog:   cl,
		Logger:    slog.Default(),
	}
	return NewGatewayHandler(orch, stubPrompts{}, slog.Default()), cl
}

func postChat(t *testing.T, handler http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatMissingToken(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{response: "hi"})
	rec := postChat(t, handler, "", `{"message":"hello"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatInvalidToken(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{response: "hi"})
	rec := postChat(t, handler, "bad", `{"message":"hello"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatInvalidBody(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{response: "hi"})
	rec := postChat(t, handler, "good", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{response: "hi"})
	rec := postChat(t, handler, "good", `{"message":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	var payload struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error envelope not JSON: %v", err)
	}
	if payload.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", payload.Error.Type)
	}
}

func TestChatNonStreaming(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{response: "the answer"})
	rec := postChat(t, handler, "good", `{"message":"question","role":"tutor"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp gateway.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.UserMessage != "question" || resp.BotResponse != "the answer" || resp.Role != "tutor" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Timestamp == "" {
		t.Error("response missing timestamp")
	}
}

func TestChatStreaming(t *testing.T) {
	handler, cl := newTestHandler(stubGenerator{
		chunks: []llm.Chunk{{Text: "Hello"}, {Text: " world"}},
	})
	rec := postChat(t, handler, "good", `{"message":"question","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	first := strings.Index(body, `data: {"chunk":"Hello"}`)
	second := strings.Index(body, `data: {"chunk":" world"}`)
	done := strings.Index(body, "data: [DONE]")
	if first == -1 || second == -1 || done == -1 {
		t.Fatalf("stream body missing events:\n%s", body)
	}
	if !(first < second && second < done) {
		t.Errorf("events out of order:\n%s", body)
	}

	entry := <-cl.entries
	if entry[2] != "Hello world" {
		t.Errorf("logged response = %q, want concatenation", entry[2])
	}
}

func TestChatStreamingMidError(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{
		chunks: []llm.Chunk{{Text: "partial"}, {Err: context.DeadlineExceeded}},
	})
	rec := postChat(t, handler, "good", `{"message":"question","stream":true}`)

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"chunk":"partial"}`) {
		t.Errorf("stream missing the chunk before the failure:\n%s", body)
	}
	if !strings.Contains(body, `data: {"error":"Stream interrupted"}`) {
		t.Errorf("stream missing terminal error event:\n%s", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Errorf("interrupted stream must not end with [DONE]:\n%s", body)
	}
}

func TestRolesEndpoint(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{})
	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	want := []string{"assistant", "default", "tutor"}
	if len(payload.Roles) != len(want) {
		t.Fatalf("roles = %v, want %v", payload.Roles, want)
	}
	for i, role := range want {
		if payload.Roles[i] != role {
			t.Errorf("roles[%d] = %q, want %q", i, payload.Roles[i], role)
		}
	}
}

func TestHealth(t *testing.T) {
	handler, _ := newTestHandler(stubGenerator{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
