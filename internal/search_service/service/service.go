// Package service exposes the search, answer and ingestion operations to the
// HTTP layer.
package service

import (
	"context"
	"fmt"

	"docsearch/internal/indexer"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/pipeline"
	"docsearch/internal/rag/schema"
	"docsearch/pkg/logger"
)

// SearchService is the application service behind the HTTP API.
type SearchService struct {
	retrieval *pipeline.RetrievalPipeline
	qa        *pipeline.QAPipeline
	publisher *indexer.JobPublisher
	reports   interfaces.ReportStore
	catalog   interfaces.CatalogStore
	log       *logger.Logger
}

// NewSearchService creates the service. Publisher, reports and catalog are
// optional; the corresponding endpoints report unavailability without them.
func NewSearchService(
	retrieval *pipeline.RetrievalPipeline,
	qa *pipeline.QAPipeline,
	publisher *indexer.JobPublisher,
	reports interfaces.ReportStore,
	catalog interfaces.CatalogStore,
	log *logger.Logger,
) *SearchService {
	return &SearchService{
		retrieval: retrieval,
		qa:        qa,
		publisher: publisher,
		reports:   reports,
		catalog:   catalog,
		log:       log,
	}
}

// Search runs one hybrid query.
func (s *SearchService) Search(ctx context.Context, q *schema.Query) ([]schema.SearchResult, error) {
	return s.retrieval.Run(ctx, q)
}

// Answer retrieves context and streams a generated answer, invoking onDelta
// per text increment.
func (s *SearchService) Answer(ctx context.Context, q *schema.Query, onDelta func(string)) (*pipeline.Answer, error) {
	return s.qa.Run(ctx, q, onDelta)
}

// EnqueueIngest submits an ingestion job to the indexer.
func (s *SearchService) EnqueueIngest(ctx context.Context, job *indexer.IngestJob) error {
	if s.publisher == nil {
		return fmt.Errorf("ingestion queue is not configured")
	}
	return s.publisher.Publish(ctx, job)
}

// GetReport loads one ingestion report; (nil, nil) when missing.
func (s *SearchService) GetReport(ctx context.Context, id string) (*schema.IngestionReport, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("report store is not configured")
	}
	return s.reports.Get(ctx, id)
}

// ListReports returns recent ingestion reports.
func (s *SearchService) ListReports(ctx context.Context, limit int) ([]*schema.IngestionReport, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("report store is not configured")
	}
	return s.reports.List(ctx, limit)
}

// ListProducts returns the product catalog.
func (s *SearchService) ListProducts(ctx context.Context) ([]schema.Product, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("catalog store is not configured")
	}
	return s.catalog.List(ctx)
}
