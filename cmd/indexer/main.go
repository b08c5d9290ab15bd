package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docsearch/internal/config"
	kafkadb "docsearch/internal/database/kafka"
	"docsearch/internal/database/milvus"
	miniodb "docsearch/internal/database/minio"
	mongodb "docsearch/internal/database/mongo"
	redisdb "docsearch/internal/database/redis"
	"docsearch/internal/embedding"
	"docsearch/internal/indexer"
	"docsearch/internal/models"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/sources"
	"docsearch/internal/rag/sparse"
	"docsearch/internal/rag/storages/reportstore"
	"docsearch/internal/rag/storages/seencache"
	"docsearch/internal/rag/storages/vectorstore"
	"docsearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New("Indexer", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vector index
	milvusClient, err := milvus.NewClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to Milvus")
	}
	defer milvusClient.Close()
	index, err := vectorstore.NewMilvusIndex(ctx, milvusClient, &cfg.Databases.Milvus, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to initialize vector index")
	}

	// Seen cache; ingestion works without it, only slower on replays.
	var seen interfaces.SeenCache
	if redisClient, err := redisdb.NewClient(ctx, &cfg.Databases.Redis); err != nil {
		serviceLogger.Warn("Redis unavailable, running without seen cache: " + err.Error())
	} else {
		defer redisClient.Close()
		seen = seencache.NewRedisCache(redisClient)
	}

	// Reports and catalog
	mongoClient, err := mongodb.NewClient(ctx, &cfg.Databases.MongoDB)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to MongoDB")
	}
	defer mongoClient.Close(context.Background())
	reports := reportstore.NewMongoStore(mongoClient.Database)
	catalog := reportstore.NewMongoCatalog(mongoClient.Database)

	// Chunk source backend for minio jobs
	minioClient, err := miniodb.NewClient(ctx, &cfg.Databases.MinIO)
	if err != nil {
		serviceLogger.Warn("MinIO unavailable, only file jobs will run: " + err.Error())
		minioClient = nil
	} else if err := miniodb.EnsureBucket(ctx, minioClient, cfg.Databases.MinIO.Bucket); err != nil {
		serviceLogger.Warn("Failed to ensure chunk bucket: " + err.Error())
	}

	// Collaborators
	embedModel, err := embedding.NewModel(cfg.Embedding)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create embedding model")
	}
	encoder, err := sparse.NewEncoder()
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create sparse encoder")
	}

	// Pre-load the catalog so re-ingested chunks keep their product metadata.
	var enricher *sources.Enricher
	if products, err := catalog.List(ctx); err != nil {
		serviceLogger.Warn("Failed to load product catalog: " + err.Error())
	} else if len(products) > 0 {
		enricher = sources.NewEnricher(products)
	}

	worker := indexer.NewWorker(indexer.WorkerDeps{
		Embedder: embedding.AsModel(embedModel),
		Sparse:   encoder,
		Index:    index,
		Seen:     seen,
		Reports:  reports,
		Catalog:  catalog,
		Enricher: enricher,
		MinIO:    minioClient,
	}, cfg.Ingestion, cfg.Timeouts, serviceLogger)

	// Job queue
	if err := kafkadb.EnsureTopic(ctx, &cfg.Databases.Kafka); err != nil {
		serviceLogger.Warn("Failed to ensure job topic: " + err.Error())
	}
	consumer := indexer.NewJobConsumer(&cfg.Databases.Kafka, serviceLogger)
	consumer.Start(ctx, worker.Handle)
	serviceLogger.Info("Ingest job consumer started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down indexer...")

	cancel()
	if err := consumer.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka consumer")
	}
	serviceLogger.Info("Indexer stopped")
}
