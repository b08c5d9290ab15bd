package schema

import "time"

const (
	// MetadataKeyFileName is the key for the source document file name.
	MetadataKeyFileName = "filename"
	// MetadataKeyPageNumber is the key for the 1-based page number within the
	// source document. Upstream partitioning tools sometimes emit it as a
	// float, so readers must coerce before use.
	MetadataKeyPageNumber = "page_number"
	// MetadataKeyText is the key under which the raw chunk text is copied into
	// the indexed record, so that search results carry their own content.
	MetadataKeyText = "text"
	// MetadataKeyType is the key for the chunk's structural type as reported
	// by the partitioning service (e.g. "NarrativeText", "Footer", "Image").
	MetadataKeyType = "type"
	// MetadataKeyProductCategory is the key for the product category a
	// document belongs to.
	MetadataKeyProductCategory = "product_category"
	// MetadataKeyProductID is the key for the product identifier.
	MetadataKeyProductID = "product_id"
	// MetadataKeyProductName is the key for the human-readable product name.
	MetadataKeyProductName = "product_name"
)

// Chunk is a unit of source text produced by the external partitioning
// service. Chunks are consumed read-only; enrichment produces a new Chunk
// that reuses the original ID.
type Chunk struct {
	// ID is the partitioner-assigned, stable identifier of this chunk.
	ID string `json:"element_id"`

	// Text is the chunk's string content.
	Text string `json:"text"`

	// Metadata holds at least filename and page_number, optionally the
	// product fields and the structural type.
	Metadata map[string]interface{} `json:"metadata"`
}

// SparseVector is a lexical representation of a text: a mapping from token id
// to a BM25-style relevance weight. Zero-weight terms are omitted, so an empty
// map is a valid vector that matches nothing lexically.
type SparseVector map[uint32]float32

// VectorRecord is the indexed unit: one record per chunk, carrying both the
// dense embedding and the sparse lexical vector plus a copy of the chunk
// metadata (including the raw text).
type VectorRecord struct {
	ID       string
	Dense    []float32
	Sparse   SparseVector
	Metadata map[string]interface{}
}

// Query describes a single hybrid search request.
type Query struct {
	// Text is the natural-language query.
	Text string `json:"query"`

	// TopK bounds the number of results. Zero means DefaultTopK.
	TopK int `json:"top_k"`

	// FileFilter restricts results to chunks from one source document.
	FileFilter string `json:"filename,omitempty"`

	// CategoryFilter restricts results to one product category. When both
	// filters are set they apply as a conjunction.
	CategoryFilter string `json:"product_category,omitempty"`

	// Alpha blends lexical and semantic signal: 0 is pure keyword search,
	// 1 is pure semantic search. Nil means DefaultAlpha.
	Alpha *float64 `json:"alpha,omitempty"`
}

const (
	// DefaultTopK is used when a query does not specify a result count.
	DefaultTopK = 5
	// MaxTopK is the upper bound accepted for a query's result count.
	MaxTopK = 20
	// DefaultAlpha is the blend weight used when a query does not set one.
	DefaultAlpha = 0.5
)

// SearchResult is one ranked match of a hybrid query.
type SearchResult struct {
	// Text is the raw chunk text stored alongside the vector.
	Text string `json:"text"`
	// Source is the file name of the document the chunk came from.
	Source string `json:"source"`
	// Page is the 1-based page number, coerced from the stored value.
	Page int `json:"page"`
	// Score is the index-assigned relevance score, higher is better.
	Score float32 `json:"score"`
}

// Citation identifies one source page referenced by a generated answer.
// Identity is the (Filename, Page) pair.
type Citation struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
}

// IngestionReport summarizes one ingestion run. It is persisted for
// operational tooling; failed batches are enumerated, never silently dropped.
type IngestionReport struct {
	ID               string        `bson:"_id" json:"id"`
	ProcessedCount   int           `bson:"processed_count" json:"processedCount"`
	SkippedCount     int           `bson:"skipped_count" json:"skippedCount"`
	DroppedCount     int           `bson:"dropped_count" json:"droppedCount"`
	FailedBatchCount int           `bson:"failed_batch_count" json:"failedBatchCount"`
	FailedBatches    []FailedBatch `bson:"failed_batches,omitempty" json:"failedBatches,omitempty"`
	ElapsedSeconds   float64       `bson:"elapsed_seconds" json:"elapsedSeconds"`
	StartedAt        time.Time     `bson:"started_at" json:"startedAt"`
}

// FailedBatch records a batch that exhausted its retries during ingestion,
// with the ids that were lost so an operator can re-submit them.
type FailedBatch struct {
	BatchIndex int      `bson:"batch_index" json:"batchIndex"`
	ChunkIDs   []string `bson:"chunk_ids" json:"chunkIds"`
	Error      string   `bson:"error" json:"error"`
}

// Product is one entry of the document catalog: the product information
// carried by the first chunk of each source document.
type Product struct {
	Filename        string `bson:"filename" json:"filename"`
	ProductCategory string `bson:"product_category" json:"product_category"`
	ProductID       string `bson:"product_id" json:"product_id"`
	ProductName     string `bson:"product_name,omitempty" json:"product_name,omitempty"`
}

// FileName returns the chunk's source file name, or "" if absent.
func (c *Chunk) FileName() string {
	if v, ok := c.Metadata[MetadataKeyFileName].(string); ok {
		return v
	}
	return ""
}

// Type returns the chunk's structural type, or "" if absent.
func (c *Chunk) Type() string {
	if v, ok := c.Metadata[MetadataKeyType].(string); ok {
		return v
	}
	return ""
}
