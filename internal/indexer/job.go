// Package indexer runs ingestion jobs delivered over Kafka. The search
// service enqueues a job per corpus refresh; the indexer consumes them one at
// a time so corpus-wide runs never compete for the embedding quota.
package indexer

import (
	"time"

	"github.com/google/uuid"
)

// Source kinds accepted in an IngestJob.
const (
	SourceFile  = "file"
	SourceMinIO = "minio"
)

// IngestJob describes one requested ingestion run: where the partitioned
// chunk files live and when the run was asked for.
type IngestJob struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`           // "file" or "minio"
	Path        string    `json:"path,omitempty"`   // directory for file sources
	Bucket      string    `json:"bucket,omitempty"` // bucket for minio sources
	Prefix      string    `json:"prefix,omitempty"` // key prefix for minio sources
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewIngestJob creates a job with a fresh id and submission timestamp.
func NewIngestJob(source string) *IngestJob {
	return &IngestJob{
		ID:          uuid.NewString(),
		Source:      source,
		SubmittedAt: time.Now().UTC(),
	}
}
