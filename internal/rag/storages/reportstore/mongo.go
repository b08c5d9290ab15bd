package reportstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
)

const (
	reportsCollection = "ingestion_reports"
	catalogCollection = "product_catalog"
)

// MongoStore persists ingestion reports in MongoDB.
type MongoStore struct {
	reports *mongo.Collection
}

// NewMongoStore creates a report store over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{reports: db.Collection(reportsCollection)}
}

// Save persists one ingestion report, replacing any earlier report with the
// same id.
func (s *MongoStore) Save(ctx context.Context, report *schema.IngestionReport) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.reports.ReplaceOne(ctx, bson.M{"_id": report.ID}, report, opts)
	if err != nil {
		return fmt.Errorf("failed to save ingestion report %s: %w", report.ID, err)
	}
	return nil
}

// Get fetches one report by id. A missing report returns (nil, nil).
func (s *MongoStore) Get(ctx context.Context, id string) (*schema.IngestionReport, error) {
	var report schema.IngestionReport
	err := s.reports.FindOne(ctx, bson.M{"_id": id}).Decode(&report)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestion report %s: %w", id, err)
	}
	return &report, nil
}

// List returns the most recent reports, newest first.
func (s *MongoStore) List(ctx context.Context, limit int) ([]*schema.IngestionReport, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.reports.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []*schema.IngestionReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode ingestion reports: %w", err)
	}
	return reports, nil
}

// MongoCatalog persists the product catalog in MongoDB.
type MongoCatalog struct {
	catalog *mongo.Collection
}

// NewMongoCatalog creates a catalog store over the given database.
func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{catalog: db.Collection(catalogCollection)}
}

// Put upserts catalog entries keyed by filename.
func (s *MongoCatalog) Put(ctx context.Context, products []schema.Product) error {
	if len(products) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(products))
	for _, p := range products {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"filename": p.Filename}).
			SetReplacement(p).
			SetUpsert(true))
	}
	if _, err := s.catalog.BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("failed to update product catalog: %w", err)
	}
	return nil
}

// List returns the whole product catalog sorted by filename.
func (s *MongoCatalog) List(ctx context.Context) ([]schema.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "filename", Value: 1}})
	cursor, err := s.catalog.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list product catalog: %w", err)
	}
	defer cursor.Close(ctx)

	var products []schema.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("failed to decode product catalog: %w", err)
	}
	return products, nil
}

var (
	_ interfaces.ReportStore  = (*MongoStore)(nil)
	_ interfaces.CatalogStore = (*MongoCatalog)(nil)
)
