package pipeline

import (
	"context"
	"fmt"
	"time"

	"docsearch/internal/config"
	"docsearch/internal/rag/errs"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/internal/rag/storages/vectorstore"
	"docsearch/pkg/logger"
)

// RetrievalPipeline answers hybrid similarity queries: it embeds the query,
// builds the lexical arm when the index supports it, and maps raw index hits
// to search results in the index's relevance order.
type RetrievalPipeline struct {
	embedder interfaces.EmbeddingModel
	sparse   interfaces.SparseEncoder
	index    interfaces.VectorIndex
	timeouts config.TimeoutConfig
	log      *logger.Logger
}

// NewRetrievalPipeline creates a retrieval pipeline.
func NewRetrievalPipeline(
	embedder interfaces.EmbeddingModel,
	sparse interfaces.SparseEncoder,
	index interfaces.VectorIndex,
	timeouts config.TimeoutConfig,
	log *logger.Logger,
) *RetrievalPipeline {
	return &RetrievalPipeline{
		embedder: embedder,
		sparse:   sparse,
		index:    index,
		timeouts: timeouts,
		log:      log,
	}
}

// Run validates and executes one query.
func (p *RetrievalPipeline) Run(ctx context.Context, q *schema.Query) ([]schema.SearchResult, error) {
	topK, alpha, err := validateQuery(q)
	if err != nil {
		return nil, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, config.Timeout(p.timeouts.Embed, 30*time.Second))
	defer cancel()
	dense, err := p.embedder.Embed(embedCtx, []string{q.Text})
	if err != nil {
		if embedCtx.Err() == context.DeadlineExceeded {
			return nil, &errs.TimeoutError{Op: "query embedding", Err: err}
		}
		return nil, &errs.EmbeddingError{Err: err}
	}
	if len(dense) != 1 {
		return nil, &errs.EmbeddingError{Err: fmt.Errorf("got %d embeddings for one query", len(dense))}
	}

	req := &interfaces.IndexQuery{
		Dense:   dense[0],
		TopK:    topK,
		Alpha:   alpha,
		Filters: buildFilters(q),
	}
	// The lexical arm only exists where the index can blend it; alpha 1
	// asks for pure semantic search anyway.
	if p.index.SupportsHybrid() && alpha < 1 {
		req.Sparse = p.sparse.BuildQuery(q.Text)
	}

	queryCtx, cancel := context.WithTimeout(ctx, config.Timeout(p.timeouts.Query, 30*time.Second))
	defer cancel()
	matches, err := p.index.Query(queryCtx, req)
	if err != nil {
		if queryCtx.Err() == context.DeadlineExceeded {
			return nil, &errs.TimeoutError{Op: "index query", Err: err}
		}
		return nil, err
	}

	p.log.Info(fmt.Sprintf("Query %q returned %d matches (topK=%d, alpha=%.2f)", q.Text, len(matches), topK, alpha))
	return toSearchResults(matches), nil
}

// validateQuery applies defaults and bounds. Validation failures are typed
// and never retried.
func validateQuery(q *schema.Query) (topK int, alpha float64, err error) {
	if q == nil || q.Text == "" {
		return 0, 0, &errs.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	topK = q.TopK
	if topK == 0 {
		topK = schema.DefaultTopK
	}
	if topK < 1 || topK > schema.MaxTopK {
		return 0, 0, &errs.ValidationError{
			Field:  "top_k",
			Reason: fmt.Sprintf("must be between 1 and %d", schema.MaxTopK),
		}
	}
	alpha = schema.DefaultAlpha
	if q.Alpha != nil {
		alpha = *q.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return 0, 0, &errs.ValidationError{Field: "alpha", Reason: "must be within [0, 1]"}
	}
	return topK, alpha, nil
}

func buildFilters(q *schema.Query) map[string]interface{} {
	filters := make(map[string]interface{})
	if q.FileFilter != "" {
		filters[vectorstore.FieldFileName] = q.FileFilter
	}
	if q.CategoryFilter != "" {
		filters[vectorstore.FieldProductCategory] = q.CategoryFilter
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

// toSearchResults maps raw matches to results, preserving the index's order.
// Stored page numbers may arrive as floats; they are truncated, and anything
// below 1 falls back to page 1.
func toSearchResults(matches []interfaces.Match) []schema.SearchResult {
	results := make([]schema.SearchResult, 0, len(matches))
	for _, m := range matches {
		text, _ := m.Metadata[schema.MetadataKeyText].(string)
		source, _ := m.Metadata[schema.MetadataKeyFileName].(string)
		results = append(results, schema.SearchResult{
			Text:   text,
			Source: source,
			Page:   coercePage(m.Metadata[schema.MetadataKeyPageNumber]),
			Score:  m.Score,
		})
	}
	return results
}

func coercePage(v interface{}) int {
	page := 1
	switch n := v.(type) {
	case int:
		page = n
	case float64:
		page = int(n)
	case float32:
		page = int(n)
	}
	if page < 1 {
		page = 1
	}
	return page
}
