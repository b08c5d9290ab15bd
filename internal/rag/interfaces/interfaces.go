package interfaces

import (
	"context"

	"docsearch/internal/rag/schema"
)

// ChunkSource is the interface for loading partitioned chunk files from a
// source (e.g. a local directory or an object-store bucket). The actual text
// extraction and chunking is performed by an external partitioning service;
// a ChunkSource only reads its JSON output.
type ChunkSource interface {
	Load(ctx context.Context) ([]*schema.Chunk, error)
}

// EmbeddingModel is the interface for a dense text embedding model.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEncoder produces lexical sparse vectors. Build scores a batch of
// documents against itself (batch-local document frequencies); BuildQuery
// weights a single query string by plain term frequency.
type SparseEncoder interface {
	Build(texts []string) []schema.SparseVector
	BuildQuery(text string) schema.SparseVector
}

// IndexQuery is one similarity request against the vector index. Sparse may
// be nil when the index does not support lexical blending or the query is
// purely semantic.
type IndexQuery struct {
	Dense   []float32
	Sparse  schema.SparseVector
	TopK    int
	Alpha   float64
	Filters map[string]interface{}
}

// Match is one raw index hit: the record id, the index-assigned score and the
// stored metadata (including the raw text).
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}

// VectorIndex is the interface for the hybrid vector index.
//
// Upsert is insert-or-update by id; combined with the Exists check it makes
// ingestion idempotent under replays. Query returns matches in the index's
// relevance order, which callers must not re-sort.
type VectorIndex interface {
	Exists(ctx context.Context, ids []string) (map[string]struct{}, error)
	Upsert(ctx context.Context, records []*schema.VectorRecord) error
	Query(ctx context.Context, q *IndexQuery) ([]Match, error)

	// SupportsHybrid reports whether the index can blend dense and sparse
	// signal. When false, callers omit the sparse arm entirely.
	SupportsHybrid() bool
}

// StreamDelta is one increment of a generation stream. Err is non-nil only
// for the final delta of a failed stream; the text accumulated before the
// failure remains valid.
type StreamDelta struct {
	Text string
	Err  error
}

// LLM is the interface for the generation collaborator. The returned channel
// is a lazy, finite, non-restartable sequence: it is closed when the stream
// ends, and cancelling ctx releases the underlying network resource.
type LLM interface {
	GenerateStream(ctx context.Context, prompt string) (<-chan StreamDelta, error)
}

// SeenCache is an optional cache of ids known to be present in the index.
// It only ever short-circuits positive lookups; the index stays authoritative
// for ids the cache has not seen.
type SeenCache interface {
	Contains(ctx context.Context, ids []string) (map[string]struct{}, error)
	Add(ctx context.Context, ids []string) error
}

// ReportStore persists ingestion reports for operational tooling.
type ReportStore interface {
	Save(ctx context.Context, report *schema.IngestionReport) error
	Get(ctx context.Context, id string) (*schema.IngestionReport, error)
	List(ctx context.Context, limit int) ([]*schema.IngestionReport, error)
}

// CatalogStore persists the product catalog derived from ingested documents.
type CatalogStore interface {
	Put(ctx context.Context, products []schema.Product) error
	List(ctx context.Context) ([]schema.Product, error)
}
