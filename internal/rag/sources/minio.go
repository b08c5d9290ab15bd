package sources

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"

	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/pkg/logger"
)

// MinIOSource loads chunk files from an object-store bucket. Object layout
// mirrors FileSource: one *.json object per partitioned document.
type MinIOSource struct {
	log    *logger.Logger
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOSource creates a source over the given bucket and key prefix.
func NewMinIOSource(client *minio.Client, bucket, prefix string, log *logger.Logger) *MinIOSource {
	return &MinIOSource{log: log, client: client, bucket: bucket, prefix: prefix}
}

// Load streams every chunk object under the prefix.
func (s *MinIOSource) Load(ctx context.Context) ([]*schema.Chunk, error) {
	var chunks []*schema.Chunk
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list bucket %q: %w", s.bucket, obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		objChunks, err := s.loadObject(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, objChunks...)
	}
	s.log.Info(fmt.Sprintf("Loaded %d chunks from bucket %s", len(chunks), s.bucket))
	return chunks, nil
}

func (s *MinIOSource) loadObject(ctx context.Context, key string) ([]*schema.Chunk, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	chunks, err := decodeChunks(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse object %q: %w", key, err)
	}
	return chunks, nil
}

var _ interfaces.ChunkSource = (*MinIOSource)(nil)
