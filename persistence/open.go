package persistence

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lexcodex/researchbot/framework"
)

// Open builds the conversation memory selected by cfg.Backend.
func Open(ctx context.Context, cfg framework.MemoryConfig) (framework.ConversationMemory, error) {
	switch cfg.Backend {
	case "", framework.MemoryInMemory:
		return NewInMemoryMemory(), nil
	case framework.MemoryFile:
		return NewFileMessageStore(cfg.Path)
	case framework.MemorySQLite:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "conversations.db")
		}
		return NewSQLiteMemory(path)
	case framework.MemoryMongo:
		return NewMongoMemory(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
