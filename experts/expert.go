// Package experts routes chat requests to one of several answering
// strategies and keeps the conversation history they share.
package experts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexcodex/researchbot/framework"
)

// Type names an answering strategy.
type Type string

const (
	TypeQnA          Type = "QNA"
	TypeRAG          Type = "RAG"
	TypeDeepResearch Type = "DEEPRESEARCH"
)

var (
	// ErrUnknownExpert is returned when a type has no registered expert.
	ErrUnknownExpert = errors.New("unknown expert type")
	// ErrEmptyQuery is returned for a request without question text.
	ErrEmptyQuery = errors.New("query is empty")
)

// ParseType accepts a type name in any case.
func ParseType(name string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(name)))
	switch t {
	case TypeQnA, TypeRAG, TypeDeepResearch:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownExpert, name)
}

// Request is one user turn addressed to an expert.
type Request struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
}

// Response is an expert's answer. Metadata carries strategy specific
// details such as cited sources.
type Response struct {
	Response       string         `json:"response"`
	ConversationID string         `json:"conversation_id"`
	Expert         Type           `json:"expert"`
	Metadata       map[string]any `json:"additional_kwargs,omitempty"`
}

// Info describes an expert.
type Info struct {
	Type        Type   `json:"expert_type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Expert answers a request using its own strategy. Implementations append
// the user turn and their answer to conversation memory.
type Expert interface {
	Info() Info
	Process(ctx context.Context, req Request) (*Response, error)
}

// Streamer is implemented by experts that can emit the answer as it is
// generated. sink receives text fragments; the returned Response holds the
// complete answer.
type Streamer interface {
	Stream(ctx context.Context, req Request, sink func(string)) (*Response, error)
}

// conversation holds the memory plumbing every expert shares.
type conversation struct {
	memory framework.ConversationMemory
	window int
}

// begin records the user turn and returns the windowed history ending with it.
func (c conversation) begin(ctx context.Context, req Request) ([]framework.Message, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if err := c.memory.Append(ctx, req.ConversationID, framework.UserMessage(req.Query)); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}
	history, err := c.memory.History(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return framework.WindowHistory(history, c.window), nil
}

// finish records the assistant's answer.
func (c conversation) finish(ctx context.Context, conversationID, answer string) error {
	msg := framework.Message{Role: framework.RoleAssistant, Content: answer}
	if err := c.memory.Append(ctx, conversationID, msg); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}
	return nil
}

// generate runs a single model call, streaming when sink is set.
func generate(ctx context.Context, model framework.LanguageModel, history []framework.Message, opts *framework.LLMOptions, sink func(string)) (string, error) {
	if sink == nil {
		resp, err := model.Generate(ctx, history, opts)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Text), nil
	}
	ch, err := model.GenerateStream(ctx, history, opts)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
		sink(chunk.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
