package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/researchbot/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.emitPrompt(ctx, "generate", messages, options)
	start := time.Now()
	resp, err := m.Inner.Generate(ctx, messages, options)
	m.emitResponse(ctx, "generate", resp, err, time.Since(start))
	return resp, err
}

// GenerateStream relays the inner stream unchanged and emits one response
// event once it ends, carrying the assembled text preview.
func (m *InstrumentedModel) GenerateStream(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	m.emitPrompt(ctx, "generate_stream", messages, options)
	start := time.Now()
	inner, err := m.Inner.GenerateStream(ctx, messages, options)
	if err != nil {
		m.emitResponse(ctx, "generate_stream", nil, err, time.Since(start))
		return nil, err
	}
	out := make(chan framework.StreamChunk)
	go func() {
		defer close(out)
		var text strings.Builder
		var streamErr error
		defer func() {
			m.emitResponse(ctx, "generate_stream", &framework.LLMResponse{Text: text.String(), FinishReason: "stream"}, streamErr, time.Since(start))
		}()
		for chunk := range inner {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			text.WriteString(chunk.Text)
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
				// Drain so the inner producer can exit.
				for range inner {
				}
				return
			}
		}
	}()
	return out, nil
}

func (m *InstrumentedModel) emitPrompt(ctx context.Context, kind string, messages []framework.Message, options *framework.LLMOptions) {
	if m == nil || m.Telemetry == nil {
		return
	}
	roles := make([]string, 0, len(messages))
	chars := 0
	for _, msg := range messages {
		roles = append(roles, msg.Role)
		chars += len(msg.Content)
	}
	metadata := map[string]interface{}{
		"kind":          kind,
		"model":         modelFromOptions(options),
		"message_count": len(messages),
		"roles":         roles,
		"prompt_chars":  chars,
	}
	system := ""
	if options != nil && options.System != "" {
		system = options.System
		metadata["system_chars"] = len(system)
	}
	metadata["prompt_tokens_estimate"] = framework.EstimateMessageTokens(messages, system)
	if m.Debug {
		full := make([]map[string]interface{}, 0, len(messages))
		for _, msg := range messages {
			full = append(full, map[string]interface{}{
				"role":    msg.Role,
				"content": clip(msg.Content, 8192),
			})
		}
		metadata["messages"] = full
		if options != nil && options.System != "" {
			metadata["system"] = clip(options.System, 8192)
		}
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMPrompt,
		RunID:     framework.RunIDFrom(ctx),
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s prompt", kind),
		Metadata:  metadata,
	})
}

func (m *InstrumentedModel) emitResponse(ctx context.Context, kind string, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"kind":       kind,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		if resp.Usage != nil {
			metadata["usage"] = resp.Usage
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMResponse,
		RunID:     framework.RunIDFrom(ctx),
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s response", kind),
		Metadata:  metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	return truncate(s, max)
}
