package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/persistence"
	"github.com/lexcodex/researchbot/research"
)

type stubModel struct {
	reply string
	err   error
}

func (m stubModel) Generate(context.Context, []framework.Message, *framework.LLMOptions) (*framework.LLMResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &framework.LLMResponse{Text: m.reply}, nil
}

func (m stubModel) GenerateStream(ctx context.Context, _ []framework.Message, _ *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan framework.StreamChunk, 2)
	ch <- framework.StreamChunk{Text: "part one, "}
	ch <- framework.StreamChunk{Text: "part two"}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, model stubModel) (*APIServer, *persistence.InMemoryVectorStore) {
	t.Helper()
	mem := persistence.NewInMemoryMemory()
	docs := persistence.NewInMemoryVectorStore()
	engine, err := experts.NewChatEngine(mem, experts.TypeQnA, nil,
		experts.NewQnAExpert(model, mem, 5, nil, nil),
		experts.NewRAGExpert(model, docs, mem, 5, 3, nil, nil),
	)
	require.NoError(t, err)
	return &APIServer{Chat: engine, Documents: docs}, docs
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "x"})
	rec := do(t, api.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatAndConversationLifecycle(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "It is 42."})
	h := api.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/chat", ChatRequest{Query: "What is the answer?", ConversationID: "conv-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp experts.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "It is 42.", resp.Response)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, experts.TypeQnA, resp.Expert)

	rec = do(t, h, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversations":["conv-1"]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/conversations/conv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, framework.RoleAssistant, conv.Messages[1].Role)

	rec = do(t, h, http.MethodDelete, "/api/v1/conversations/conv-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/conversations/conv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Empty(t, conv.Messages)
}

func TestChatRequiresQuery(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "x"})
	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/chat", map[string]string{"conversation_id": "c"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatFailureHidesProviderError(t *testing.T) {
	api, _ := newTestServer(t, stubModel{err: errors.New("secret upstream detail")})
	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/chat", ChatRequest{Query: "q"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret upstream detail")
	assert.Contains(t, rec.Body.String(), research.MessageFailed)
}

func TestChatStreamEmitsEvents(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "unused"})
	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/chat/stream", ChatRequest{Query: "q", ConversationID: "s"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream"))
	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event:message"))
	assert.Contains(t, body, "part one, ")
	assert.Contains(t, body, "event:done")
	assert.Contains(t, body, `"response":"part one, part two"`)
}

func TestChatStreamReportsError(t *testing.T) {
	api, _ := newTestServer(t, stubModel{err: errors.New("boom")})
	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/chat/stream", ChatRequest{Query: "q"})
	body := rec.Body.String()
	assert.Contains(t, body, "event:error")
	assert.NotContains(t, body, "boom")
}

func TestExpertEndpoints(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "x"})
	h := api.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/experts/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expert_type":"QNA"`)

	rec = do(t, h, http.MethodGet, "/api/v1/experts/available", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var available struct {
		Experts []experts.Info `json:"experts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &available))
	assert.Len(t, available.Experts, 2)

	rec = do(t, h, http.MethodPost, "/api/v1/experts/switch", SwitchRequest{ExpertType: "rag"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expert_type":"RAG"`)

	rec = do(t, h, http.MethodPost, "/api/v1/experts/switch", SwitchRequest{ExpertType: "DEEPRESEARCH"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/experts/qna/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "QnAExpert")

	rec = do(t, h, http.MethodGet, "/api/v1/experts/poet/info", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddDocuments(t *testing.T) {
	api, docs := newTestServer(t, stubModel{reply: "x"})
	h := api.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/documents", DocumentsRequest{Documents: []persistence.Document{
		{ID: "handbook", Title: "Handbook", Content: "Office hours are nine to five."},
		{Title: "Untitled", Content: "Parking is on level two."},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, docs.Count())
	assert.Contains(t, rec.Body.String(), `"handbook"`)

	rec = do(t, h, http.MethodPost, "/api/v1/documents", DocumentsRequest{Documents: []persistence.Document{{ID: "empty"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, docs.Count())

	api.Documents = nil
	rec = do(t, api.Handler(), http.MethodPost, "/api/v1/documents", DocumentsRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInvalidConversationID(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "x"})
	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/conversations/a%5Cb", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsBadRequestsWithBadRequest(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "x"})
	h := api.Handler()
	cases := []struct {
		name string
		path string
		req  ChatRequest
		want string
	}{
		{"traversal id", "/api/v1/chat", ChatRequest{Query: "q", ConversationID: "../etc"}, "invalid conversation id"},
		{"backslash id", "/api/v1/chat", ChatRequest{Query: "q", ConversationID: `a\b`}, "invalid conversation id"},
		{"blank query", "/api/v1/chat", ChatRequest{Query: "   "}, "query is required"},
		{"stream traversal id", "/api/v1/chat/stream", ChatRequest{Query: "q", ConversationID: "../etc"}, "invalid conversation id"},
		{"stream blank query", "/api/v1/chat/stream", ChatRequest{Query: "\t\n"}, "query is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			assert.NotContains(t, rec.Body.String(), research.MessageFailed)
			assert.NotContains(t, rec.Body.String(), "event:")
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "etc")
}

func TestBadChatErrorMapsSentinels(t *testing.T) {
	msg, bad := badChatError(fmt.Errorf("wrapped: %w", persistence.ErrInvalidConversationID))
	assert.True(t, bad)
	assert.Equal(t, "invalid conversation id", msg)
	msg, bad = badChatError(experts.ErrEmptyQuery)
	assert.True(t, bad)
	assert.Equal(t, "query is required", msg)
	_, bad = badChatError(errors.New("upstream"))
	assert.False(t, bad)
}

func TestServeContextShutsDown(t *testing.T) {
	api, _ := newTestServer(t, stubModel{reply: "x"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.ServeContext(ctx, "127.0.0.1:0") }()
	cancel()
	err := <-done
	assert.True(t, err == nil || errors.Is(err, context.Canceled))
}
