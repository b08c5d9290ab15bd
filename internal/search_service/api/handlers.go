package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docsearch/internal/indexer"
	"docsearch/internal/models"
	"docsearch/internal/rag/errs"
	"docsearch/internal/rag/schema"
	"docsearch/internal/search_service/service"
	"docsearch/pkg/logger"
)

// API provides the HTTP handlers of the search service.
type API struct {
	service *service.SearchService
	logger  *logger.Logger
}

// NewAPI creates the handler set.
func NewAPI(service *service.SearchService, logger *logger.Logger) *API {
	return &API{service: service, logger: logger}
}

// SearchHandler runs a hybrid query and returns the ranked results.
func (a *API) SearchHandler(c *gin.Context) {
	var query schema.Query
	if err := c.ShouldBindJSON(&query); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid search payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	results, err := a.service.Search(c.Request.Context(), &query)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// AnswerHandler streams a generated answer as server-sent events: one
// "delta" event per text increment, then a final "done" event carrying the
// citations and the retrieved context. Stream failures after the first byte
// surface as an "error" event with the partial text already delivered.
func (a *API) AnswerHandler(c *gin.Context) {
	var query schema.Query
	if err := c.ShouldBindJSON(&query); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid answer payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	started := false
	answer, err := a.service.Answer(c.Request.Context(), &query, func(delta string) {
		started = true
		c.SSEvent("delta", delta)
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		if !started {
			// Nothing streamed yet; a plain JSON error is still possible.
			c.Writer.Header().Set("Content-Type", "application/json")
			a.respondError(c, err)
			return
		}
		c.SSEvent("error", err.Error())
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	if serr := answer.Session.Err(); serr != nil {
		c.SSEvent("error", serr.Error())
	}
	c.SSEvent("done", gin.H{
		"answer":    answer.Session.Current(),
		"citations": answer.Citations,
		"context":   answer.Context,
	})
	if flusher != nil {
		flusher.Flush()
	}
}

// IngestHandler enqueues an ingestion job.
func (a *API) IngestHandler(c *gin.Context) {
	var payload struct {
		Source string `json:"source"`
		Path   string `json:"path"`
		Bucket string `json:"bucket"`
		Prefix string `json:"prefix"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if payload.Source != indexer.SourceFile && payload.Source != indexer.SourceMinIO {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("source must be %q or %q", indexer.SourceFile, indexer.SourceMinIO)})
		return
	}

	job := indexer.NewIngestJob(payload.Source)
	job.Path = payload.Path
	job.Bucket = payload.Bucket
	job.Prefix = payload.Prefix

	if err := a.service.EnqueueIngest(c.Request.Context(), job); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to enqueue ingest job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue ingest job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// GetReportHandler returns one ingestion report by id.
func (a *API) GetReportHandler(c *gin.Context) {
	report, err := a.service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve report"})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListReportsHandler returns recent ingestion reports.
func (a *API) ListReportsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	reports, err := a.service.ListReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// ListProductsHandler returns the product catalog.
func (a *API) ListProductsHandler(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// HealthHandler reports liveness.
func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps the typed error taxonomy to HTTP statuses.
func (a *API) respondError(c *gin.Context, err error) {
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return
	}
	var terr *errs.TimeoutError
	if errors.As(err, &terr) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": terr.Error()})
		return
	}
	a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}
