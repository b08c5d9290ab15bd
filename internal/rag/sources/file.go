// Package sources provides ChunkSource implementations that read the JSON
// output of the external partitioning service, plus metadata enrichment
// applied before indexing.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/pkg/logger"
)

// FileSource loads chunk files from a local directory. Every *.json file in
// the directory is expected to hold one partitioned document: a JSON array of
// chunks.
type FileSource struct {
	log *logger.Logger
	dir string
}

// NewFileSource creates a source over the given directory.
func NewFileSource(dir string, log *logger.Logger) *FileSource {
	return &FileSource{log: log, dir: dir}
}

// Load reads all chunk files in the directory. A single unreadable file fails
// the whole load so a partial corpus is never silently indexed.
func (s *FileSource) Load(ctx context.Context) ([]*schema.Chunk, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk directory %q: %w", s.dir, err)
	}

	var chunks []*schema.Chunk
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk file %q: %w", path, err)
		}
		fileChunks, err := decodeChunks(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chunk file %q: %w", path, err)
		}
		chunks = append(chunks, fileChunks...)
	}
	s.log.Info(fmt.Sprintf("Loaded %d chunks from %s", len(chunks), s.dir))
	return chunks, nil
}

// decodeChunks parses one partitioned document. Chunks without an id or
// metadata are rejected here rather than deep inside the pipeline.
func decodeChunks(data []byte) ([]*schema.Chunk, error) {
	var chunks []*schema.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, err
	}
	for i, c := range chunks {
		if c.ID == "" {
			return nil, fmt.Errorf("chunk %d has no element_id", i)
		}
		if c.Metadata == nil {
			c.Metadata = map[string]interface{}{}
		}
	}
	return chunks, nil
}

var _ interfaces.ChunkSource = (*FileSource)(nil)
