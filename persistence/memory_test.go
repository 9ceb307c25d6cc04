package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/researchbot/framework"
)

func memoryBackends(t *testing.T) map[string]framework.ConversationMemory {
	t.Helper()
	dir := t.TempDir()
	file, err := NewFileMessageStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sqlite, err := NewSQLiteMemory(filepath.Join(dir, "db", "memory.db"))
	require.NoError(t, err)
	backends := map[string]framework.ConversationMemory{
		"inmemory": NewInMemoryMemory(),
		"file":     file,
		"sqlite":   sqlite,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			_ = b.Close()
		}
	})
	return backends
}

func TestConversationMemoryBackends(t *testing.T) {
	for name, mem := range memoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := mem.History(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, empty)

			fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
			require.NoError(t, mem.Append(ctx, "b", framework.UserMessage("hello")))
			require.NoError(t, mem.Append(ctx, "b", framework.Message{Role: framework.RoleAssistant, Content: "hi there", Timestamp: fixed}))
			require.NoError(t, mem.Append(ctx, "a", framework.UserMessage("other")))

			history, err := mem.History(ctx, "b")
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, framework.RoleUser, history[0].Role)
			assert.Equal(t, "hello", history[0].Content)
			assert.False(t, history[0].Timestamp.IsZero())
			assert.Equal(t, "hi there", history[1].Content)
			assert.True(t, fixed.Equal(history[1].Timestamp))
			want := []framework.Message{
				{Role: framework.RoleUser, Content: "hello"},
				{Role: framework.RoleAssistant, Content: "hi there"},
			}
			if diff := cmp.Diff(want, history, cmpopts.IgnoreFields(framework.Message{}, "Timestamp")); diff != "" {
				t.Errorf("history mismatch (-want +got):\n%s", diff)
			}

			ids, err := mem.Conversations(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)

			require.NoError(t, mem.Clear(ctx, "b"))
			require.NoError(t, mem.Clear(ctx, "never-existed"))
			history, err = mem.History(ctx, "b")
			require.NoError(t, err)
			assert.Empty(t, history)

			ids, err = mem.Conversations(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, ids)
		})
	}
}

func TestConversationMemoryRejectsBadIDs(t *testing.T) {
	for name, mem := range memoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := mem.Append(ctx, "", framework.UserMessage("x"))
			assert.True(t, errors.Is(err, framework.ErrConversationIDRequired))
			_, err = mem.History(ctx, "../escape")
			assert.True(t, errors.Is(err, ErrInvalidConversationID))
		})
	}
}

func TestFileMessageStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := NewFileMessageStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, "conv", framework.UserMessage("persisted")))

	second, err := NewFileMessageStore(dir)
	require.NoError(t, err)
	history, err := second.History(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "persisted", history[0].Content)
}

func TestInMemoryHistoryIsACopy(t *testing.T) {
	ctx := context.Background()
	mem := NewInMemoryMemory()
	require.NoError(t, mem.Append(ctx, "c", framework.UserMessage("original")))
	history, err := mem.History(ctx, "c")
	require.NoError(t, err)
	history[0].Content = "mutated"

	again, err := mem.History(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mem, err := Open(ctx, framework.MemoryConfig{Backend: framework.MemoryInMemory})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryMemory{}, mem)

	mem, err = Open(ctx, framework.MemoryConfig{Backend: framework.MemoryFile, Path: dir})
	require.NoError(t, err)
	assert.IsType(t, &FileMessageStore{}, mem)

	mem, err = Open(ctx, framework.MemoryConfig{Backend: framework.MemorySQLite, Path: filepath.Join(dir, "sql")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteMemory{}, mem)
	require.NoError(t, mem.Close())
	assert.FileExists(t, filepath.Join(dir, "sql", "conversations.db"))

	_, err = Open(ctx, framework.MemoryConfig{Backend: "redis"})
	assert.ErrorContains(t, err, "unknown memory backend")
}
