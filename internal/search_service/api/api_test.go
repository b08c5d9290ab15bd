package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"docsearch/internal/config"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/pipeline"
	"docsearch/internal/rag/schema"
	"docsearch/internal/search_service/service"
	"docsearch/pkg/logger"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubSparse struct{}

func (stubSparse) Build(texts []string) []schema.SparseVector { return nil }
func (stubSparse) BuildQuery(text string) schema.SparseVector {
	return schema.SparseVector{1: 1}
}

type stubIndex struct {
	matches []interfaces.Match
}

func (s *stubIndex) SupportsHybrid() bool { return true }
func (s *stubIndex) Exists(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}
func (s *stubIndex) Upsert(ctx context.Context, records []*schema.VectorRecord) error { return nil }
func (s *stubIndex) Query(ctx context.Context, q *interfaces.IndexQuery) ([]interfaces.Match, error) {
	return s.matches, nil
}

type stubLLM struct{ text string }

func (s *stubLLM) GenerateStream(ctx context.Context, prompt string) (<-chan interfaces.StreamDelta, error) {
	ch := make(chan interfaces.StreamDelta, 1)
	ch <- interfaces.StreamDelta{Text: s.text}
	close(ch)
	return ch, nil
}

func newTestRouter(t *testing.T, index *stubIndex, llm interfaces.LLM) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New("test", "")
	retrieval := pipeline.NewRetrievalPipeline(stubEmbedder{}, stubSparse{}, index, config.TimeoutConfig{}, log)
	qa := pipeline.NewQAPipeline(retrieval, llm, config.TimeoutConfig{}, log)
	svc := service.NewSearchService(retrieval, qa, nil, nil, nil, log)

	router := gin.New()
	RegisterRoutes(router, NewAPI(svc, log), config.MiddlewareConfig{})
	return router
}

func TestSearchHandlerReturnsResults(t *testing.T) {
	index := &stubIndex{matches: []interfaces.Match{
		{ID: "a", Score: 0.8, Metadata: map[string]interface{}{
			schema.MetadataKeyText:       "found",
			schema.MetadataKeyFileName:   "m.pdf",
			schema.MetadataKeyPageNumber: 2.0,
		}},
	}}
	router := newTestRouter(t, index, &stubLLM{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search",
		strings.NewReader(`{"query": "how to install", "top_k": 3}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Results []schema.SearchResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].Source != "m.pdf" || body.Results[0].Page != 2 {
		t.Errorf("unexpected results: %+v", body.Results)
	}
}

func TestSearchHandlerValidation(t *testing.T) {
	router := newTestRouter(t, &stubIndex{}, &stubLLM{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"empty query", `{"query": ""}`, http.StatusBadRequest},
		{"topK out of range", `{"query": "q", "top_k": 50}`, http.StatusBadRequest},
		{"alpha out of range", `{"query": "q", "alpha": 2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAnswerHandlerStreamsSSE(t *testing.T) {
	router := newTestRouter(t, &stubIndex{}, &stubLLM{text: "Answer [m.pdf, Page 2]."})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer",
		strings.NewReader(`{"query": "how?"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event:delta") {
		t.Errorf("missing delta event:\n%s", body)
	}
	if !strings.Contains(body, "event:done") {
		t.Errorf("missing done event:\n%s", body)
	}
	if !strings.Contains(body, "m.pdf") {
		t.Errorf("citations missing from done event:\n%s", body)
	}
}

func TestIngestHandlerRejectsUnknownSource(t *testing.T) {
	router := newTestRouter(t, &stubIndex{}, &stubLLM{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest",
		strings.NewReader(`{"source": "ftp", "path": "/x"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &stubIndex{}, &stubLLM{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.New("test", "")
	retrieval := pipeline.NewRetrievalPipeline(stubEmbedder{}, stubSparse{}, &stubIndex{}, config.TimeoutConfig{}, log)
	qa := pipeline.NewQAPipeline(retrieval, &stubLLM{}, config.TimeoutConfig{}, log)
	svc := service.NewSearchService(retrieval, qa, nil, nil, nil, log)

	router := gin.New()
	RegisterRoutes(router, NewAPI(svc, log), config.MiddlewareConfig{
		RateLimiter: config.RateLimiterConfig{Enabled: true, Rate: 0.001, Capacity: 1},
	})

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query": "q"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] == http.StatusTooManyRequests {
		t.Error("first request must pass")
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", codes[1])
	}
}
