package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/researchbot/framework"
)

const messageFileSuffix = ".messages.json"

// FileMessageStore keeps each conversation in its own JSON file.
type FileMessageStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileMessageStore builds a store in the provided root directory.
func NewFileMessageStore(root string) (*FileMessageStore, error) {
	if root == "" {
		return nil, errors.New("message store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileMessageStore{root: root}, nil
}

func (s *FileMessageStore) pathFor(id string) string {
	return filepath.Join(s.root, id+messageFileSuffix)
}

// Append stores messages for a conversation.
func (s *FileMessageStore) Append(ctx context.Context, conversationID string, messages ...framework.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(conversationID)
	if err != nil {
		return err
	}
	existing = append(existing, stamp(messages, time.Now().UTC())...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	// Write through a temp file so a crash never leaves half a conversation.
	tmp := s.pathFor(conversationID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.pathFor(conversationID))
}

// History returns the conversation, oldest message first.
func (s *FileMessageStore) History(ctx context.Context, conversationID string) ([]framework.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, err := s.read(conversationID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []framework.Message{}
	}
	return msgs, nil
}

// Clear removes stored messages. Clearing an unknown conversation is a no-op.
func (s *FileMessageStore) Clear(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.pathFor(conversationID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Conversations lists stored conversation ids in lexical order.
func (s *FileMessageStore) Conversations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, messageFileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, messageFileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileMessageStore) Close() error { return nil }

func (s *FileMessageStore) read(conversationID string) ([]framework.Message, error) {
	data, err := os.ReadFile(s.pathFor(conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var messages []framework.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
