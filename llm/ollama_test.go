package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/researchbot/framework"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestClientGenerate(t *testing.T) {
	client := NewClient("http://fake/", "test")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			assert.Equal(t, "/api/chat", req.URL.Path)
			var payload ollamaRequest
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "test", payload.Model)
			assert.False(t, payload.Stream)
			assert.Equal(t, []ollamaMessage{
				{Role: "system", Content: "be brief"},
				{Role: "user", Content: "hello"},
			}, payload.Messages)
			assert.Equal(t, 0.5, payload.Options["temperature"])
			return jsonResponse(200, `{"message":{"role":"assistant","content":"response"},"done":true,"done_reason":"stop","eval_count":7}`)
		}),
	}

	resp, err := client.Generate(context.Background(),
		[]framework.Message{framework.UserMessage("hello")},
		&framework.LLMOptions{System: "be brief", Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "response", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, map[string]int{"completion_tokens": 7}, resp.Usage)
}

func TestClientGenerateHTTPError(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			return jsonResponse(404, `{"error":"model not found"}`)
		}),
	}
	_, err := client.Generate(context.Background(), []framework.Message{framework.UserMessage("x")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestClientGenerateStream(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			var payload ollamaRequest
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.True(t, payload.Stream)
			body := strings.Join([]string{
				`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
				``,
				`{"message":{"role":"assistant","content":"lo"},"done":false}`,
				`{"message":{"role":"assistant","content":""},"done":true}`,
			}, "\n")
			return jsonResponse(200, body)
		}),
	}
	ch, err := client.GenerateStream(context.Background(), []framework.Message{framework.UserMessage("x")}, nil)
	require.NoError(t, err)
	var text strings.Builder
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text.WriteString(chunk.Text)
	}
	assert.Equal(t, "Hello", text.String())
}

func TestClientGenerateStreamError(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			return jsonResponse(200, "{\"message\":{\"content\":\"a\"}}\n{\"error\":\"out of memory\"}\n")
		}),
	}
	ch, err := client.GenerateStream(context.Background(), []framework.Message{framework.UserMessage("x")}, nil)
	require.NoError(t, err)
	var chunks []framework.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].Text)
	assert.ErrorContains(t, chunks[1].Err, "out of memory")
}

type recordingTelemetry struct {
	events []framework.Event
}

func (r *recordingTelemetry) Emit(e framework.Event) { r.events = append(r.events, e) }

func TestInstrumentedModelEmitsPromptAndResponse(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			return jsonResponse(200, `{"message":{"content":"ok"},"done":true}`)
		}),
	}
	sink := &recordingTelemetry{}
	model := NewInstrumentedModel(client, sink, true)
	ctx := framework.WithRunID(context.Background(), "run-7")
	resp, err := model.Generate(ctx, []framework.Message{framework.UserMessage("ping")}, &framework.LLMOptions{System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	require.Len(t, sink.events, 2)
	assert.Equal(t, framework.EventLLMPrompt, sink.events[0].Type)
	assert.Equal(t, "run-7", sink.events[0].RunID)
	assert.Equal(t, "sys", sink.events[0].Metadata["system"])
	assert.Equal(t, 2, sink.events[0].Metadata["prompt_tokens_estimate"])
	assert.Equal(t, framework.EventLLMResponse, sink.events[1].Type)
	assert.Equal(t, "ok", sink.events[1].Metadata["text_preview"])
}

func TestInstrumentedModelStream(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			return jsonResponse(200, "{\"message\":{\"content\":\"a\"}}\n{\"message\":{\"content\":\"b\"},\"done\":true}\n")
		}),
	}
	sink := &recordingTelemetry{}
	ch, err := NewInstrumentedModel(client, sink, false).GenerateStream(context.Background(), []framework.Message{framework.UserMessage("x")}, nil)
	require.NoError(t, err)
	var text strings.Builder
	for chunk := range ch {
		text.WriteString(chunk.Text)
	}
	assert.Equal(t, "ab", text.String())
	require.Len(t, sink.events, 2)
	assert.Equal(t, "ab", sink.events[1].Metadata["text_preview"])
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "ok", truncate("ok", 5))
	assert.Equal(t, "a...(truncated)", truncate("aé", 2))
	assert.Equal(t, "ab\n...(truncated)", clip("ab\r\nüber", 4))
}
