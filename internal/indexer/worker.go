package indexer

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"

	"docsearch/internal/config"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/pipeline"
	"docsearch/internal/rag/sources"
	"docsearch/pkg/logger"
)

// Worker executes ingestion jobs against the shared collaborators. One worker
// instance handles all jobs of the process; the consumer delivers them
// sequentially.
type Worker struct {
	embedder interfaces.EmbeddingModel
	sparse   interfaces.SparseEncoder
	index    interfaces.VectorIndex
	seen     interfaces.SeenCache
	reports  interfaces.ReportStore
	catalog  interfaces.CatalogStore
	enricher *sources.Enricher
	minio    *minio.Client
	cfg      config.IngestionConfig
	timeouts config.TimeoutConfig
	log      *logger.Logger
}

// WorkerDeps bundles the worker's collaborators. MinIO may be nil when only
// file jobs are expected.
type WorkerDeps struct {
	Embedder interfaces.EmbeddingModel
	Sparse   interfaces.SparseEncoder
	Index    interfaces.VectorIndex
	Seen     interfaces.SeenCache
	Reports  interfaces.ReportStore
	Catalog  interfaces.CatalogStore
	Enricher *sources.Enricher
	MinIO    *minio.Client
}

// NewWorker creates a job worker.
func NewWorker(deps WorkerDeps, cfg config.IngestionConfig, timeouts config.TimeoutConfig, log *logger.Logger) *Worker {
	return &Worker{
		embedder: deps.Embedder,
		sparse:   deps.Sparse,
		index:    deps.Index,
		seen:     deps.Seen,
		reports:  deps.Reports,
		catalog:  deps.Catalog,
		enricher: deps.Enricher,
		minio:    deps.MinIO,
		cfg:      cfg,
		timeouts: timeouts,
		log:      log,
	}
}

// Handle runs one ingestion job end to end.
func (w *Worker) Handle(ctx context.Context, job *IngestJob) error {
	source, err := w.sourceFor(job)
	if err != nil {
		return err
	}

	p := pipeline.NewIngestionPipeline(pipeline.IngestionDeps{
		Source:   source,
		Enricher: w.enricher,
		Embedder: w.embedder,
		Sparse:   w.sparse,
		Index:    w.index,
		Seen:     w.seen,
		Reports:  w.reports,
		Catalog:  w.catalog,
	}, w.cfg, w.timeouts, w.log)

	report, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	w.log.Info(fmt.Sprintf("Job %s finished: processed=%d skipped=%d dropped=%d failedBatches=%d",
		job.ID, report.ProcessedCount, report.SkippedCount, report.DroppedCount, report.FailedBatchCount))
	return nil
}

func (w *Worker) sourceFor(job *IngestJob) (interfaces.ChunkSource, error) {
	switch job.Source {
	case SourceFile:
		if job.Path == "" {
			return nil, fmt.Errorf("job %s: file source without path", job.ID)
		}
		return sources.NewFileSource(job.Path, w.log), nil
	case SourceMinIO:
		if w.minio == nil {
			return nil, fmt.Errorf("job %s: minio source but no minio client configured", job.ID)
		}
		if job.Bucket == "" {
			return nil, fmt.Errorf("job %s: minio source without bucket", job.ID)
		}
		return sources.NewMinIOSource(w.minio, job.Bucket, job.Prefix, w.log), nil
	default:
		return nil, fmt.Errorf("job %s: unknown source %q", job.ID, job.Source)
	}
}
