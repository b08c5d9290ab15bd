package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"docsearch/internal/config"
	"docsearch/internal/database/milvus"
	mongodb "docsearch/internal/database/mongo"
	redisdb "docsearch/internal/database/redis"
	"docsearch/internal/embedding"
	"docsearch/internal/indexer"
	"docsearch/internal/llm"
	"docsearch/internal/models"
	"docsearch/internal/rag/pipeline"
	"docsearch/internal/rag/sparse"
	"docsearch/internal/rag/storages/reportstore"
	"docsearch/internal/rag/storages/vectorstore"
	"docsearch/internal/search_service/api"
	"docsearch/internal/search_service/service"
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
	serviceLogger := logger.New("SearchService", "")

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
	serviceLogger.Info("Vector index ready")

	// Reports and catalog
	mongoClient, err := mongodb.NewClient(ctx, &cfg.Databases.MongoDB)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to MongoDB")
	}
	defer mongoClient.Close(context.Background())
	reports := reportstore.NewMongoStore(mongoClient.Database)
	catalog := reportstore.NewMongoCatalog(mongoClient.Database)

	// Smoke-check Redis so misconfiguration surfaces at startup, even though
	// this process never touches the seen cache itself.
	if redisClient, err := redisdb.NewClient(ctx, &cfg.Databases.Redis); err != nil {
		serviceLogger.Warn("Redis unavailable: " + err.Error())
	} else {
		_ = redisClient.Close()
	}

	// Collaborators
	embedModel, err := embedding.NewModel(cfg.Embedding)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create embedding model")
	}
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create LLM client")
	}
	encoder, err := sparse.NewEncoder()
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create sparse encoder")
	}

	// Query texts repeat heavily; cache their embeddings.
	cachedEmbedder, err := embedding.WithCache(embedding.AsModel(embedModel), 1024, 10*time.Minute)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create embedding cache")
	}

	retrieval := pipeline.NewRetrievalPipeline(cachedEmbedder, encoder, index, cfg.Timeouts, serviceLogger)
	qa := pipeline.NewQAPipeline(retrieval, llmClient, cfg.Timeouts, serviceLogger)
	publisher := indexer.NewJobPublisher(&cfg.Databases.Kafka, serviceLogger)

	svc := service.NewSearchService(retrieval, qa, publisher, reports, catalog, serviceLogger)

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	api.RegisterRoutes(router, api.NewAPI(svc, serviceLogger), cfg.Middleware)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}
	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Server forced to shutdown")
	}
	if err := publisher.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka publisher")
	}
	serviceLogger.Info("Server gracefully stopped")
}
