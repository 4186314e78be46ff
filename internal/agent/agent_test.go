package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biochat/internal/domain"
)

type mockSearcher struct {
	results []domain.SearchResult
	err     error
	queries []string
}

func (m *mockSearcher) Retrieve(_ context.Context, query string, _ int) ([]domain.SearchResult, error) {
	m.queries = append(m.queries, query)
	return m.results, m.err
}

// chatServer replays one scripted SSE response per request and records request bodies.
type chatServer struct {
	mu        sync.Mutex
	responses [][]string
	requests  []openai.ChatCompletionRequest
	srv       *httptest.Server
}

func newChatServer(t *testing.T, responses ...[]string) *chatServer {
	t.Helper()
	cs := &chatServer{responses: responses}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		cs.mu.Lock()
		n := len(cs.requests)
		cs.requests = append(cs.requests, req)
		body := cs.responses[min(n, len(cs.responses)-1)]
		cs.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range body {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) client() *openai.Client {
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = cs.srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func (cs *chatServer) recorded() []openai.ChatCompletionRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), cs.requests...)
}

func contentChunk(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id": "chunk", "object": "chat.completion.chunk", "model": "gpt-4o",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": text}}},
	})
	return string(b)
}

func toolCallChunk(index int, id, name, args string) string {
	call := map[string]any{"index": index, "function": map[string]any{"arguments": args}}
	if id != "" {
		call["id"] = id
		call["type"] = "function"
		call["function"].(map[string]any)["name"] = name
	}
	b, _ := json.Marshal(map[string]any{
		"id": "chunk", "object": "chat.completion.chunk", "model": "gpt-4o",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"tool_calls": []any{call}}}},
	})
	return string(b)
}

func collect(t *testing.T, ch <-chan domain.Fragment) (string, error) {
	t.Helper()
	var b strings.Builder
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if f.Err != nil {
				_, more := <-ch
				assert.False(t, more, "stream must close after an error")
				return b.String(), f.Err
			}
			b.WriteString(f.Text)
		case <-timeout:
			t.Fatal("stream did not finish")
			return "", nil
		}
	}
}

func TestStreamAnswer_DirectAnswer(t *testing.T) {
	cs := newChatServer(t, []string{contentChunk("Hello"), contentChunk("! How can I help?")})
	a := New(cs.client(), NewRetrievalTool(&mockSearcher{}, 3), NewMemory(10), Config{})

	answer, err := collect(t, a.StreamAnswer(context.Background(), "hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help?", answer)

	reqs := cs.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o", reqs[0].Model)
	assert.True(t, reqs[0].Stream)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, toolName, reqs[0].Tools[0].Function.Name)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "hi", reqs[0].Messages[1].Content)
}

func TestStreamAnswer_ToolCallThenAnswer(t *testing.T) {
	cs := newChatServer(t,
		[]string{
			toolCallChunk(0, "call_1", toolName, `{"query":`),
			toolCallChunk(0, "", "", `"Microsoft founding"}`),
		},
		[]string{contentChunk("Allen co-founded "), contentChunk("Microsoft in 1975.")},
	)
	searcher := &mockSearcher{results: []domain.SearchResult{
		{Chunk: domain.Chunk{Text: "Allen and Gates founded Microsoft in 1975."}, Score: 0.9},
		{Chunk: domain.Chunk{Text: "They started in Albuquerque."}, Score: 0.7},
	}}
	mem := NewMemory(10)
	a := New(cs.client(), NewRetrievalTool(searcher, 3), mem, Config{Model: "gpt-4o-mini"})

	answer, err := collect(t, a.StreamAnswer(context.Background(), "When was Microsoft founded?"))
	require.NoError(t, err)
	assert.Equal(t, "Allen co-founded Microsoft in 1975.", answer)
	assert.Equal(t, []string{"Microsoft founding"}, searcher.queries)

	reqs := cs.recorded()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, `{"query":"Microsoft founding"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "[1] Allen and Gates founded Microsoft in 1975.\n\n[2] They started in Albuquerque.", msgs[3].Content)
	assert.Equal(t, "gpt-4o-mini", reqs[1].Model)

	require.Equal(t, 1, mem.Len())
	remembered := mem.Messages()
	assert.Equal(t, "When was Microsoft founded?", remembered[0].Content)
	assert.Equal(t, "Allen co-founded Microsoft in 1975.", remembered[1].Content)
}

func TestStreamAnswer_MemoryKeepsTextBeforeToolCall(t *testing.T) {
	cs := newChatServer(t,
		[]string{
			contentChunk("Let me check the archive. "),
			toolCallChunk(0, "call_1", toolName, `{"query":"Seahawks"}`),
		},
		[]string{contentChunk("He bought the Seahawks in 1997.")},
	)
	searcher := &mockSearcher{results: []domain.SearchResult{
		{Chunk: domain.Chunk{Text: "In 1997 he bought the Seattle Seahawks."}, Score: 0.9},
	}}
	mem := NewMemory(10)
	a := New(cs.client(), NewRetrievalTool(searcher, 3), mem, Config{})

	answer, err := collect(t, a.StreamAnswer(context.Background(), "When did he buy the Seahawks?"))
	require.NoError(t, err)
	assert.Equal(t, "Let me check the archive. He bought the Seahawks in 1997.", answer)

	require.Equal(t, 1, mem.Len())
	assert.Equal(t, answer, mem.Messages()[1].Content)
	assert.Equal(t, "Let me check the archive. ", cs.recorded()[1].Messages[2].Content)
}

func TestStreamAnswer_MemoryIsSent(t *testing.T) {
	cs := newChatServer(t, []string{contentChunk("Yes.")})
	mem := NewMemory(10)
	mem.Add("Who is Paul Allen?", "A co-founder of Microsoft.")
	a := New(cs.client(), NewRetrievalTool(&mockSearcher{}, 3), mem, Config{})

	_, err := collect(t, a.StreamAnswer(context.Background(), "Did he own a team?"))
	require.NoError(t, err)

	msgs := cs.recorded()[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "Who is Paul Allen?", msgs[1].Content)
	assert.Equal(t, "A co-founder of Microsoft.", msgs[2].Content)
	assert.Equal(t, "Did he own a team?", msgs[3].Content)
	assert.Equal(t, 2, mem.Len())
}

func TestStreamAnswer_ToolErrorIsReported(t *testing.T) {
	cs := newChatServer(t,
		[]string{toolCallChunk(0, "call_1", toolName, `{"query":"yachts"}`)},
		[]string{contentChunk("I could not reach the archive.")},
	)
	a := New(cs.client(), NewRetrievalTool(&mockSearcher{err: errors.New("index unavailable")}, 3), NewMemory(10), Config{})

	answer, err := collect(t, a.StreamAnswer(context.Background(), "Tell me about his yachts"))
	require.NoError(t, err)
	assert.Equal(t, "I could not reach the archive.", answer)
	assert.Equal(t, "Error: index unavailable", cs.recorded()[1].Messages[3].Content)
}

func TestStreamAnswer_MaxSteps(t *testing.T) {
	cs := newChatServer(t, []string{toolCallChunk(0, "call_x", toolName, `{"query":"loop"}`)})
	mem := NewMemory(10)
	a := New(cs.client(), NewRetrievalTool(&mockSearcher{}, 3), mem, Config{MaxSteps: 2})

	_, err := collect(t, a.StreamAnswer(context.Background(), "loop forever"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMaxSteps))
	assert.Len(t, cs.recorded(), 2)
	assert.Zero(t, mem.Len())
}

func TestStreamAnswer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	cfg := openai.DefaultConfig("sk-bad")
	cfg.BaseURL = srv.URL + "/v1"
	a := New(openai.NewClientWithConfig(cfg), NewRetrievalTool(&mockSearcher{}, 3), NewMemory(10), Config{})

	_, err := collect(t, a.StreamAnswer(context.Background(), "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestStreamAnswer_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", contentChunk("Paul"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	a := New(openai.NewClientWithConfig(cfg), NewRetrievalTool(&mockSearcher{}, 3), NewMemory(10), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := a.StreamAnswer(ctx, "Who is Paul Allen?")
	first := <-ch
	assert.Equal(t, "Paul", first.Text)
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}
