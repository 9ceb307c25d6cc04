package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// Client implements framework.LanguageModel for Ollama's chat API.
type Client struct {
	Endpoint string
	Model    string
	Debug    bool
	Logger   *zap.Logger
	client   *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         *ollamaMessage `json:"message"`
	Response        string         `json:"response"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	Error           string         `json:"error"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: 3 * time.Minute},
	}
}

// Generate sends the conversation to /api/chat and waits for the full reply.
func (c *Client) Generate(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, options, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logf("response payload", zap.String("body", truncate(string(body), 2048)))
	return decodeLLMResponse(bytes.NewReader(body))
}

// GenerateStream sends the conversation with streaming enabled and relays
// each NDJSON fragment as a chunk. The channel closes after the final
// fragment, after an error chunk, or when ctx is cancelled.
func (c *Client) GenerateStream(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, options, true))
	if err != nil {
		return nil, err
	}
	ch := make(chan framework.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		send := func(chunk framework.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frag ollamaResponse
			if err := json.Unmarshal(line, &frag); err != nil {
				send(framework.StreamChunk{Err: fmt.Errorf("ollama stream: %w", err)})
				return
			}
			if frag.Error != "" {
				send(framework.StreamChunk{Err: fmt.Errorf("ollama error: %s", frag.Error)})
				return
			}
			text := frag.Response
			if frag.Message != nil {
				text = frag.Message.Content
			}
			if text != "" && !send(framework.StreamChunk{Text: text}) {
				return
			}
			if frag.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(framework.StreamChunk{Err: fmt.Errorf("ollama stream: %w", err)})
		}
	}()
	return ch, nil
}

// SetDebugLogging enables or disables verbose logging for requests/responses.
func (c *Client) SetDebugLogging(enabled bool) {
	c.Debug = enabled
}

func (c *Client) getHTTPClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	c.client = &http.Client{Timeout: 60 * time.Second}
	return c.client
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "qwen2.5:7b"
}

func (c *Client) buildRequest(messages []framework.Message, options *framework.LLMOptions, stream bool) ollamaRequest {
	req := ollamaRequest{
		Model:    c.model(options),
		Messages: convertMessages(messages, options),
		Stream:   stream,
	}
	if options == nil {
		return req
	}
	opts := map[string]any{}
	if options.Temperature != 0 {
		opts["temperature"] = options.Temperature
	}
	if options.MaxTokens != 0 {
		opts["num_predict"] = options.MaxTokens
	}
	if options.Stop != nil {
		opts["stop"] = options.Stop
	}
	if options.TopP != 0 {
		opts["top_p"] = options.TopP
	}
	if len(opts) > 0 {
		req.Options = opts
	}
	return req
}

func (c *Client) post(ctx context.Context, payload ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logf("request payload", zap.String("body", truncate(string(body), 2048)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail != "" {
			return nil, fmt.Errorf("ollama error: %s: %s", resp.Status, detail)
		}
		return nil, fmt.Errorf("ollama error: %s", resp.Status)
	}
	return resp, nil
}

// convertMessages prepends the system directive, when present, as a system
// turn.
func convertMessages(messages []framework.Message, options *framework.LLMOptions) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages)+1)
	if options != nil && strings.TrimSpace(options.System) != "" {
		out = append(out, ollamaMessage{Role: framework.RoleSystem, Content: options.System})
	}
	for _, msg := range messages {
		out = append(out, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func decodeLLMResponse(body io.Reader) (*framework.LLMResponse, error) {
	var raw ollamaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", raw.Error)
	}
	resp := &framework.LLMResponse{
		Text:         raw.Response,
		FinishReason: raw.DoneReason,
		Usage:        normalizeUsage(raw),
	}
	if raw.Message != nil {
		resp.Text = firstNonEmpty(raw.Message.Content, resp.Text)
	}
	return resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeUsage(raw ollamaResponse) map[string]int {
	usage := make(map[string]int)
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func (c *Client) logf(msg string, fields ...zap.Field) {
	if !c.Debug || c.Logger == nil {
		return
	}
	c.Logger.Debug("[ollama] "+msg, fields...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "...(truncated)"
}
