package framework

import (
	"context"
	"errors"
)

// ErrConversationIDRequired is returned by memory backends when called with an
// empty conversation identifier.
var ErrConversationIDRequired = errors.New("conversation id required")

// ConversationMemory persists chat history per conversation. History returns
// messages oldest first; an unknown conversation yields an empty slice.
type ConversationMemory interface {
	Append(ctx context.Context, conversationID string, messages ...Message) error
	History(ctx context.Context, conversationID string) ([]Message, error)
	Clear(ctx context.Context, conversationID string) error
	Conversations(ctx context.Context) ([]string, error)
	Close() error
}

// WindowHistory keeps the most recent size messages. A non-positive size
// keeps everything. The returned slice never aliases the input.
func WindowHistory(messages []Message, size int) []Message {
	if size > 0 && len(messages) > size {
		messages = messages[len(messages)-size:]
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
