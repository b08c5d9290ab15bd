package indexer

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"docsearch/internal/config"
	kafkadb "docsearch/internal/database/kafka"
	"docsearch/internal/models"
	"docsearch/pkg/logger"
)

// JobConsumer consumes ingestion jobs from Kafka and hands them to a handler.
// Messages are committed after handling either way: a failed run is reported
// through its ingestion report, re-running the job is an operator decision.
type JobConsumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewJobConsumer creates a consumer on the configured topic and group.
func NewJobConsumer(cfg *config.KafkaConfig, logger *logger.Logger) *JobConsumer {
	return &JobConsumer{
		reader: kafkadb.NewReader(cfg),
		logger: logger,
	}
}

// Start consumes jobs until ctx is cancelled.
func (c *JobConsumer) Start(ctx context.Context, handler func(context.Context, *IngestJob) error) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping ingest job consumer...")
				return
			default:
				msg, err := c.reader.FetchMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error fetching ingest job from Kafka")
					}
					continue
				}

				var job IngestJob
				if err := json.Unmarshal(msg.Value, &job); err != nil {
					c.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
						"topic":  msg.Topic,
						"offset": msg.Offset,
					}).Error("Discarding malformed ingest job")
				} else if err := handler(ctx, &job); err != nil {
					c.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
						"job_id": job.ID,
					}).Error("Ingest job failed")
				}

				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to commit ingest job offset")
				}
			}
		}
	}()
}

// Close closes the underlying Kafka reader.
func (c *JobConsumer) Close() error {
	return c.reader.Close()
}
