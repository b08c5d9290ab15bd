package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"docsearch/internal/config"
	kafkadb "docsearch/internal/database/kafka"
	"docsearch/internal/models"
	"docsearch/pkg/logger"
)

// JobPublisher enqueues ingestion jobs on the job topic.
type JobPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

// NewJobPublisher creates a publisher for the configured topic.
func NewJobPublisher(cfg *config.KafkaConfig, logger *logger.Logger) *JobPublisher {
	return &JobPublisher{
		writer: kafkadb.NewWriter(cfg),
		logger: logger,
	}
}

// Publish enqueues one job, keyed by its id.
func (p *JobPublisher) Publish(ctx context.Context, job *IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest job: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.ID),
		Value: payload,
	})
	if err != nil {
		p.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to enqueue ingest job")
		return fmt.Errorf("failed to enqueue ingest job: %w", err)
	}
	p.logger.Info(fmt.Sprintf("Enqueued ingest job %s (source=%s)", job.ID, job.Source))
	return nil
}

// Close closes the underlying Kafka writer.
func (p *JobPublisher) Close() error {
	return p.writer.Close()
}
