package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/researchbot/framework"
)

// ErrInvalidConversationID is returned when an id cannot be used as a storage key.
var ErrInvalidConversationID = errors.New("invalid conversation id")

// stamp copies messages and fills zero timestamps with now.
func stamp(messages []framework.Message, now time.Time) []framework.Message {
	out := make([]framework.Message, len(messages))
	for i, msg := range messages {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		out[i] = msg
	}
	return out
}

// ValidateConversationID reports whether id can be used as a storage key.
func ValidateConversationID(id string) error {
	return checkID(id)
}

func checkID(id string) error {
	if id == "" {
		return framework.ErrConversationIDRequired
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
	return nil
}

// InMemoryMemory keeps conversations in process memory.
type InMemoryMemory struct {
	mu    sync.RWMutex
	convs map[string][]framework.Message
}

// NewInMemoryMemory returns an empty store.
func NewInMemoryMemory() *InMemoryMemory {
	return &InMemoryMemory{convs: make(map[string][]framework.Message)}
}

func (m *InMemoryMemory) Append(ctx context.Context, conversationID string, messages ...framework.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conversationID] = append(m.convs[conversationID], stamp(messages, time.Now().UTC())...)
	return nil
}

func (m *InMemoryMemory) History(ctx context.Context, conversationID string) ([]framework.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.convs[conversationID]
	out := make([]framework.Message, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *InMemoryMemory) Clear(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, conversationID)
	return nil
}

func (m *InMemoryMemory) Conversations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *InMemoryMemory) Close() error { return nil }
