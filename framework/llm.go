package framework

import (
	"context"
	"time"
)

// Chat roles understood by every model adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMOptions configures language model calls. Keeping the options struct inside
// the framework avoids hard-coding Ollama/Gemini specific fields in caller code.
type LLMOptions struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// StreamChunk is one fragment of a streamed completion. A chunk carrying Err
// is the last one sent on the channel.
type StreamChunk struct {
	Text string
	Err  error
}

// LanguageModel is the port every text-generation backend implements.
// Options.System, when set, is the system directive for the call; it is not
// part of the message list.
type LanguageModel interface {
	Generate(ctx context.Context, messages []Message, options *LLMOptions) (*LLMResponse, error)
	GenerateStream(ctx context.Context, messages []Message, options *LLMOptions) (<-chan StreamChunk, error)
}

// UserMessage builds a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// CloneOptions returns a copy of opts, or a zero value when opts is nil.
func CloneOptions(opts *LLMOptions) *LLMOptions {
	if opts == nil {
		return &LLMOptions{}
	}
	clone := *opts
	if opts.Stop != nil {
		clone.Stop = append([]string(nil), opts.Stop...)
	}
	return &clone
}
