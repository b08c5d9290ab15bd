// Package pipeline orchestrates ingestion, retrieval and answer generation
// over the shared collaborator interfaces.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"docsearch/internal/config"
	"docsearch/internal/rag/errs"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/internal/rag/sources"
	"docsearch/pkg/logger"
)

// IngestionPipeline loads partitioned chunks, deduplicates them against the
// index, embeds the new ones and upserts them in batches. A run is idempotent:
// replaying the same corpus skips everything already indexed, and upsert
// semantics make re-sent records overwrite rather than duplicate.
type IngestionPipeline struct {
	source   interfaces.ChunkSource
	enricher *sources.Enricher
	embedder interfaces.EmbeddingModel
	sparse   interfaces.SparseEncoder
	index    interfaces.VectorIndex
	seen     interfaces.SeenCache
	reports  interfaces.ReportStore
	catalog  interfaces.CatalogStore
	cfg      config.IngestionConfig
	timeouts config.TimeoutConfig
	log      *logger.Logger
}

// IngestionDeps bundles the pipeline's collaborators. Seen, Reports, Catalog
// and Enricher are optional; the pipeline degrades gracefully without them.
type IngestionDeps struct {
	Source   interfaces.ChunkSource
	Enricher *sources.Enricher
	Embedder interfaces.EmbeddingModel
	Sparse   interfaces.SparseEncoder
	Index    interfaces.VectorIndex
	Seen     interfaces.SeenCache
	Reports  interfaces.ReportStore
	Catalog  interfaces.CatalogStore
}

// NewIngestionPipeline creates an ingestion pipeline.
func NewIngestionPipeline(deps IngestionDeps, cfg config.IngestionConfig, timeouts config.TimeoutConfig, log *logger.Logger) *IngestionPipeline {
	return &IngestionPipeline{
		source:   deps.Source,
		enricher: deps.Enricher,
		embedder: deps.Embedder,
		sparse:   deps.Sparse,
		index:    deps.Index,
		seen:     deps.Seen,
		reports:  deps.Reports,
		catalog:  deps.Catalog,
		cfg:      cfg,
		timeouts: timeouts,
		log:      log,
	}
}

// Run executes one ingestion over the configured source and returns its
// report. Batch failures are recorded in the report, never silently dropped;
// Run only returns an error when the run as a whole could not proceed.
func (p *IngestionPipeline) Run(ctx context.Context) (*schema.IngestionReport, error) {
	started := time.Now()

	chunks, err := p.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if p.enricher != nil {
		chunks = p.enricher.Apply(chunks)
	}

	kept, dropped := p.filterChunks(chunks)
	batches := partition(kept, p.cfg.BatchSize)
	p.log.Info(fmt.Sprintf("Ingesting %d chunks in %d batches (%d dropped)", len(kept), len(batches), dropped))

	var (
		processed int64
		skipped   int64
		mu        sync.Mutex
		failed    []schema.FailedBatch
	)

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.concurrency())
	for i, batch := range batches {
		i, batch := i, batch
		eg.Go(func() error {
			n, s, failedIDs, err := p.runBatch(gCtx, batch)
			atomic.AddInt64(&processed, int64(n))
			atomic.AddInt64(&skipped, int64(s))
			if err != nil {
				// Losing one batch must not abort the run; record it
				// for the report and keep going.
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				p.log.Error(fmt.Sprintf("Batch %d failed permanently: %v", i, err))
				mu.Lock()
				failed = append(failed, schema.FailedBatch{
					BatchIndex: i,
					ChunkIDs:   failedIDs,
					Error:      err.Error(),
				})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	report := &schema.IngestionReport{
		ID:               uuid.NewString(),
		ProcessedCount:   int(processed),
		SkippedCount:     int(skipped),
		DroppedCount:     dropped,
		FailedBatchCount: len(failed),
		FailedBatches:    failed,
		ElapsedSeconds:   time.Since(started).Seconds(),
		StartedAt:        started,
	}
	p.persistReport(ctx, report, kept)
	return report, nil
}

// runBatch dedupes, embeds and upserts one batch. Returns the number of
// records written, the number skipped as already indexed, and on failure the
// ids that were not written. Ids skipped as already indexed are never
// reported as failed; re-submitting the failed ids must not re-send what the
// index already holds.
func (p *IngestionPipeline) runBatch(ctx context.Context, batch []*schema.Chunk) (int, int, []string, error) {
	fresh, skipped, err := p.dedupe(ctx, batch)
	if err != nil {
		// Nothing was confirmed present, so the whole batch is implicated.
		return 0, 0, chunkIDs(batch), err
	}
	if len(fresh) == 0 {
		return 0, skipped, nil, nil
	}

	records, err := p.buildRecords(ctx, fresh)
	if err != nil {
		return 0, skipped, chunkIDs(fresh), err
	}
	if err := p.upsertAdaptive(ctx, records); err != nil {
		return 0, skipped, chunkIDs(fresh), err
	}

	if p.seen != nil {
		// Cache failures are not batch failures; the index stays
		// authoritative.
		if err := p.seen.Add(ctx, chunkIDs(fresh)); err != nil {
			p.log.Warn(fmt.Sprintf("Failed to update seen cache: %v", err))
		}
	}
	return len(records), skipped, nil, nil
}

// dedupe removes chunks whose ids are already indexed. The cache is consulted
// first; only cache misses hit the index.
func (p *IngestionPipeline) dedupe(ctx context.Context, batch []*schema.Chunk) ([]*schema.Chunk, int, error) {
	ids := chunkIDs(batch)

	known := make(map[string]struct{})
	if p.seen != nil {
		cached, err := p.seen.Contains(ctx, ids)
		if err != nil {
			p.log.Warn(fmt.Sprintf("Seen cache lookup failed, falling back to index: %v", err))
		} else {
			known = cached
		}
	}

	var unknown []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		present, err := p.index.Exists(ctx, unknown)
		if err != nil {
			return nil, 0, err
		}
		for id := range present {
			known[id] = struct{}{}
		}
	}

	var fresh []*schema.Chunk
	for _, c := range batch {
		if _, ok := known[c.ID]; !ok {
			fresh = append(fresh, c)
		}
	}
	return fresh, len(batch) - len(fresh), nil
}

// buildRecords embeds a batch and attaches its sparse vectors and metadata.
func (p *IngestionPipeline) buildRecords(ctx context.Context, chunks []*schema.Chunk) ([]*schema.VectorRecord, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = embedText(c)
	}

	embedCtx, cancel := context.WithTimeout(ctx, config.Timeout(p.timeouts.Embed, 60*time.Second))
	defer cancel()
	dense, err := p.embedder.Embed(embedCtx, texts)
	if err != nil {
		if embedCtx.Err() == context.DeadlineExceeded {
			return nil, &errs.TimeoutError{Op: "embedding", Err: err}
		}
		return nil, &errs.EmbeddingError{Err: err}
	}
	if len(dense) != len(chunks) {
		return nil, &errs.EmbeddingError{Err: fmt.Errorf("got %d embeddings for %d texts", len(dense), len(chunks))}
	}

	// Sparse vectors are built over the same prepared texts as the dense
	// embeddings, so document-name terms are lexically matchable too.
	var sparse []schema.SparseVector
	if p.index.SupportsHybrid() {
		sparse = p.sparse.Build(texts)
	}

	records := make([]*schema.VectorRecord, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]interface{}, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[schema.MetadataKeyText] = c.Text

		rec := &schema.VectorRecord{ID: c.ID, Dense: dense[i], Metadata: meta}
		if sparse != nil {
			rec.Sparse = sparse[i]
		}
		records[i] = rec
	}
	return records, nil
}

// upsertAdaptive writes records, halving the sub-batch size on payload-size
// rejections (down to single records) and retrying transient failures with
// exponential backoff.
func (p *IngestionPipeline) upsertAdaptive(ctx context.Context, records []*schema.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := p.upsertWithRetry(ctx, records)
	if err == nil {
		return nil
	}
	if !errs.IsPayloadTooLarge(err) || len(records) == 1 {
		return err
	}

	mid := len(records) / 2
	p.log.Warn(fmt.Sprintf("Upsert payload too large for %d records, splitting", len(records)))
	if err := p.upsertAdaptive(ctx, records[:mid]); err != nil {
		return err
	}
	return p.upsertAdaptive(ctx, records[mid:])
}

func (p *IngestionPipeline) upsertWithRetry(ctx context.Context, records []*schema.VectorRecord) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			p.log.Warn(fmt.Sprintf("Retrying upsert of %d records in %s (attempt %d/%d)",
				len(records), backoff, attempt, p.cfg.MaxRetries))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		upsertCtx, cancel := context.WithTimeout(ctx, config.Timeout(p.timeouts.Upsert, 60*time.Second))
		err := p.index.Upsert(upsertCtx, records)
		cancel()
		if err == nil {
			return nil
		}
		// Size rejections are deterministic; retrying the same payload
		// cannot succeed, the caller must split instead.
		if errs.IsPayloadTooLarge(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// filterChunks drops excluded structural types and empty texts, and
// normalizes the text of the survivors.
func (p *IngestionPipeline) filterChunks(chunks []*schema.Chunk) ([]*schema.Chunk, int) {
	excluded := make(map[string]struct{}, len(p.cfg.ExcludeTypes))
	for _, t := range p.cfg.ExcludeTypes {
		excluded[t] = struct{}{}
	}

	var kept []*schema.Chunk
	dropped := 0
	for _, c := range chunks {
		if _, ok := excluded[c.Type()]; ok {
			dropped++
			continue
		}
		text := normalizeText(c.Text)
		if text == "" {
			dropped++
			continue
		}
		kept = append(kept, &schema.Chunk{ID: c.ID, Text: text, Metadata: c.Metadata})
	}
	return kept, dropped
}

func (p *IngestionPipeline) persistReport(ctx context.Context, report *schema.IngestionReport, chunks []*schema.Chunk) {
	if p.reports != nil {
		if err := p.reports.Save(ctx, report); err != nil {
			p.log.Error(fmt.Sprintf("Failed to persist ingestion report %s: %v", report.ID, err))
		}
	}
	if p.catalog != nil {
		if products := sources.Catalog(chunks); len(products) > 0 {
			if err := p.catalog.Put(ctx, products); err != nil {
				p.log.Error(fmt.Sprintf("Failed to update product catalog: %v", err))
			}
		}
	}
}

func (p *IngestionPipeline) concurrency() int {
	if p.cfg.Concurrency < 1 {
		return 1
	}
	return p.cfg.Concurrency
}

// normalizeText applies NFC normalization and collapses runs of whitespace,
// so byte-different renderings of the same text dedupe and tokenize alike.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// embedText prefixes the chunk text with its document name, anchoring the
// embedding to its source document.
func embedText(c *schema.Chunk) string {
	name := c.FileName()
	if name == "" {
		return c.Text
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return fmt.Sprintf("Document %s: %s", stem, c.Text)
}

func partition(chunks []*schema.Chunk, size int) [][]*schema.Chunk {
	if size < 1 {
		size = 1
	}
	var batches [][]*schema.Chunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}

func chunkIDs(chunks []*schema.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
