package persistence

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var documentExtensions = map[string]bool{".md": true, ".txt": true}

// LoadDocuments walks dir and upserts every .md and .txt file. The document
// id is the path relative to dir; the title is the first markdown heading or
// non-empty line. It returns the number of documents stored.
func LoadDocuments(ctx context.Context, store DocumentStore, dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !documentExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		doc := Document{
			ID:      rel,
			Title:   documentTitle(string(data), rel),
			Source:  path,
			Content: string(data),
		}
		if err := store.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("store %s: %w", rel, err)
		}
		count++
		return nil
	})
	return count, err
}

func documentTitle(content, fallback string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return strings.TrimSuffix(filepath.Base(fallback), filepath.Ext(fallback))
}
