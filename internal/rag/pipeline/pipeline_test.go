package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docsearch/internal/config"
	"docsearch/internal/rag/errs"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/pkg/logger"
)

// --- fakes ---

type fakeSource struct {
	chunks []*schema.Chunk
	err    error
}

func (f *fakeSource) Load(ctx context.Context) ([]*schema.Chunk, error) {
	return f.chunks, f.err
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, texts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeSparse struct{}

func (fakeSparse) Build(texts []string) []schema.SparseVector {
	out := make([]schema.SparseVector, len(texts))
	for i := range texts {
		out[i] = schema.SparseVector{uint32(i + 100): 1}
	}
	return out
}

func (fakeSparse) BuildQuery(text string) schema.SparseVector {
	return schema.SparseVector{7: 2}
}

// recordingSparse captures the texts handed to Build.
type recordingSparse struct {
	fakeSparse
	mu    sync.Mutex
	texts [][]string
}

func (r *recordingSparse) Build(texts []string) []schema.SparseVector {
	r.mu.Lock()
	r.texts = append(r.texts, texts)
	r.mu.Unlock()
	return r.fakeSparse.Build(texts)
}

type fakeIndex struct {
	mu       sync.Mutex
	records  map[string]*schema.VectorRecord
	hybrid   bool
	maxBatch int // batches above this size fail payload-too-large
	failures int // upsert attempts that fail transiently before succeeding
	queries  []*interfaces.IndexQuery
	matches  []interfaces.Match
	queryErr error
}

func newFakeIndex(hybrid bool) *fakeIndex {
	return &fakeIndex{records: map[string]*schema.VectorRecord{}, hybrid: hybrid}
}

func (f *fakeIndex) SupportsHybrid() bool { return f.hybrid }

func (f *fakeIndex) Exists(ctx context.Context, ids []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	present := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := f.records[id]; ok {
			present[id] = struct{}{}
		}
	}
	return present, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, records []*schema.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxBatch > 0 && len(records) > f.maxBatch {
		return fmt.Errorf("batch of %d: %w", len(records), errs.ErrPayloadTooLarge)
	}
	if f.failures > 0 {
		f.failures--
		return &errs.IndexUpsertError{Err: errors.New("transient")}
	}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, q *interfaces.IndexQuery) ([]interfaces.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.matches, f.queryErr
}

type fakeSeen struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newFakeSeen() *fakeSeen { return &fakeSeen{ids: map[string]struct{}{}} }

func (f *fakeSeen) Contains(ctx context.Context, ids []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	present := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := f.ids[id]; ok {
			present[id] = struct{}{}
		}
	}
	return present, nil
}

func (f *fakeSeen) Add(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
	return nil
}

type fakeLLM struct {
	deltas []interfaces.StreamDelta
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string) (<-chan interfaces.StreamDelta, error) {
	ch := make(chan interfaces.StreamDelta)
	go func() {
		defer close(ch)
		for _, d := range f.deltas {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// endlessLLM streams deltas until its context is cancelled, then closes
// stopped so tests can observe the release of the stream goroutine.
type endlessLLM struct {
	stopped chan struct{}
}

func (f *endlessLLM) GenerateStream(ctx context.Context, prompt string) (<-chan interfaces.StreamDelta, error) {
	ch := make(chan interfaces.StreamDelta)
	go func() {
		defer close(ch)
		defer close(f.stopped)
		for {
			select {
			case ch <- interfaces.StreamDelta{Text: "x"}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func chunk(id, text, file string, extra map[string]interface{}) *schema.Chunk {
	meta := map[string]interface{}{
		schema.MetadataKeyFileName:   file,
		schema.MetadataKeyPageNumber: 1,
	}
	for k, v := range extra {
		meta[k] = v
	}
	return &schema.Chunk{ID: id, Text: text, Metadata: meta}
}

func testIngestion(deps IngestionDeps, cfg config.IngestionConfig) *IngestionPipeline {
	return NewIngestionPipeline(deps, cfg, config.TimeoutConfig{}, logger.New("test", ""))
}

// --- ingestion ---

func TestIngestionIndexesFreshChunks(t *testing.T) {
	index := newFakeIndex(true)
	p := testIngestion(IngestionDeps{
		Source: &fakeSource{chunks: []*schema.Chunk{
			chunk("a", "first chunk", "m.pdf", nil),
			chunk("b", "second chunk", "m.pdf", nil),
		}},
		Embedder: &fakeEmbedder{},
		Sparse:   fakeSparse{},
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10, MaxRetries: 0})

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ProcessedCount != 2 || report.SkippedCount != 0 || report.FailedBatchCount != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(index.records) != 2 {
		t.Fatalf("index holds %d records, want 2", len(index.records))
	}
	rec := index.records["a"]
	if rec.Metadata[schema.MetadataKeyText] != "first chunk" {
		t.Error("raw text must be copied into record metadata")
	}
	if len(rec.Sparse) == 0 {
		t.Error("hybrid index must receive sparse vectors")
	}
}

func TestIngestionIsIdempotent(t *testing.T) {
	index := newFakeIndex(false)
	src := &fakeSource{chunks: []*schema.Chunk{
		chunk("a", "alpha text", "m.pdf", nil),
		chunk("b", "beta text", "m.pdf", nil),
	}}
	deps := IngestionDeps{Source: src, Embedder: &fakeEmbedder{}, Sparse: fakeSparse{}, Index: index, Seen: newFakeSeen()}
	cfg := config.IngestionConfig{BatchSize: 10}

	if _, err := testIngestion(deps, cfg).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := testIngestion(deps, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.ProcessedCount != 0 || report.SkippedCount != 2 {
		t.Errorf("replay must skip everything: %+v", report)
	}
}

func TestIngestionDropsExcludedAndEmpty(t *testing.T) {
	index := newFakeIndex(false)
	p := testIngestion(IngestionDeps{
		Source: &fakeSource{chunks: []*schema.Chunk{
			chunk("a", "keep me", "m.pdf", nil),
			chunk("b", "page 3 of 12", "m.pdf", map[string]interface{}{schema.MetadataKeyType: "Footer"}),
			chunk("c", "   \n\t ", "m.pdf", nil),
		}},
		Embedder: &fakeEmbedder{},
		Sparse:   fakeSparse{},
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10, ExcludeTypes: []string{"Footer", "Image"}})

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ProcessedCount != 1 || report.DroppedCount != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestIngestionSplitsOversizedPayload(t *testing.T) {
	index := newFakeIndex(false)
	index.maxBatch = 1
	p := testIngestion(IngestionDeps{
		Source: &fakeSource{chunks: []*schema.Chunk{
			chunk("a", "one", "m.pdf", nil),
			chunk("b", "two", "m.pdf", nil),
			chunk("c", "three", "m.pdf", nil),
		}},
		Embedder: &fakeEmbedder{},
		Sparse:   fakeSparse{},
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10})

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ProcessedCount != 3 || report.FailedBatchCount != 0 {
		t.Errorf("halving should land every record: %+v", report)
	}
	if len(index.records) != 3 {
		t.Errorf("index holds %d records, want 3", len(index.records))
	}
}

func TestIngestionRecordsFailedBatches(t *testing.T) {
	index := newFakeIndex(false)
	index.failures = 100 // never recovers
	p := testIngestion(IngestionDeps{
		Source:   &fakeSource{chunks: []*schema.Chunk{chunk("a", "doomed", "m.pdf", nil)}},
		Embedder: &fakeEmbedder{},
		Sparse:   fakeSparse{},
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10, MaxRetries: 0})

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("batch failure must not abort the run: %v", err)
	}
	if report.FailedBatchCount != 1 || len(report.FailedBatches) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	fb := report.FailedBatches[0]
	if len(fb.ChunkIDs) != 1 || fb.ChunkIDs[0] != "a" {
		t.Errorf("failed batch must carry its chunk ids: %+v", fb)
	}
	if fb.Error == "" {
		t.Error("failed batch must carry the error text")
	}
}

func TestIngestionFailedBatchOmitsAlreadyIndexedIDs(t *testing.T) {
	index := newFakeIndex(false)
	index.records["a"] = &schema.VectorRecord{ID: "a"}
	index.failures = 100 // never recovers
	p := testIngestion(IngestionDeps{
		Source: &fakeSource{chunks: []*schema.Chunk{
			chunk("a", "already there", "m.pdf", nil),
			chunk("b", "new and doomed", "m.pdf", nil),
		}},
		Embedder: &fakeEmbedder{},
		Sparse:   fakeSparse{},
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10, MaxRetries: 0})

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SkippedCount != 1 || report.FailedBatchCount != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	fb := report.FailedBatches[0]
	if len(fb.ChunkIDs) != 1 || fb.ChunkIDs[0] != "b" {
		t.Errorf("failed batch must list only the ids that were not written: %+v", fb.ChunkIDs)
	}
}

func TestIngestionPrefixesEmbedTextWithDocumentStem(t *testing.T) {
	index := newFakeIndex(false)
	embedder := &fakeEmbedder{}
	p := testIngestion(IngestionDeps{
		Source:   &fakeSource{chunks: []*schema.Chunk{chunk("a", "the text", "pump_manual.pdf", nil)}},
		Embedder: embedder,
		Sparse:   fakeSparse{},
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(embedder.calls) != 1 {
		t.Fatalf("embedder called %d times, want 1", len(embedder.calls))
	}
	got := embedder.calls[0][0]
	if got != "Document pump_manual: the text" {
		t.Errorf("embed text = %q", got)
	}
}

func TestIngestionBuildsSparseOverPreparedText(t *testing.T) {
	index := newFakeIndex(true)
	sparse := &recordingSparse{}
	p := testIngestion(IngestionDeps{
		Source:   &fakeSource{chunks: []*schema.Chunk{chunk("a", "the text", "pump_manual.pdf", nil)}},
		Embedder: &fakeEmbedder{},
		Sparse:   sparse,
		Index:    index,
	}, config.IngestionConfig{BatchSize: 10})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sparse.texts) != 1 || len(sparse.texts[0]) != 1 {
		t.Fatalf("sparse encoder calls = %+v", sparse.texts)
	}
	if got := sparse.texts[0][0]; got != "Document pump_manual: the text" {
		t.Errorf("sparse input = %q, want the same prepared text the embedder receives", got)
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  spaced\t\nout   text ")
	if got != "spaced out text" {
		t.Errorf("normalizeText = %q", got)
	}
}

// --- retrieval ---

func testRetrieval(index *fakeIndex) *RetrievalPipeline {
	return NewRetrievalPipeline(&fakeEmbedder{}, fakeSparse{}, index, config.TimeoutConfig{}, logger.New("test", ""))
}

func TestRetrievalValidation(t *testing.T) {
	p := testRetrieval(newFakeIndex(true))
	bad := []*schema.Query{
		nil,
		{Text: ""},
		{Text: "q", TopK: 21},
		{Text: "q", TopK: -1},
		{Text: "q", Alpha: floatPtr(1.5)},
		{Text: "q", Alpha: floatPtr(-0.1)},
	}
	for i, q := range bad {
		_, err := p.Run(context.Background(), q)
		var verr *errs.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestRetrievalAppliesDefaults(t *testing.T) {
	index := newFakeIndex(true)
	p := testRetrieval(index)
	if _, err := p.Run(context.Background(), &schema.Query{Text: "how to install"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	q := index.queries[0]
	if q.TopK != schema.DefaultTopK {
		t.Errorf("TopK = %d, want default %d", q.TopK, schema.DefaultTopK)
	}
	if q.Alpha != schema.DefaultAlpha {
		t.Errorf("Alpha = %v, want default %v", q.Alpha, schema.DefaultAlpha)
	}
	if len(q.Sparse) == 0 {
		t.Error("hybrid index should receive a sparse query vector")
	}
}

func TestRetrievalOmitsSparseArm(t *testing.T) {
	t.Run("index without hybrid support", func(t *testing.T) {
		index := newFakeIndex(false)
		p := testRetrieval(index)
		if _, err := p.Run(context.Background(), &schema.Query{Text: "q"}); err != nil {
			t.Fatal(err)
		}
		if index.queries[0].Sparse != nil {
			t.Error("non-hybrid index must not receive a sparse vector")
		}
	})
	t.Run("alpha 1 is pure semantic", func(t *testing.T) {
		index := newFakeIndex(true)
		p := testRetrieval(index)
		if _, err := p.Run(context.Background(), &schema.Query{Text: "q", Alpha: floatPtr(1)}); err != nil {
			t.Fatal(err)
		}
		if index.queries[0].Sparse != nil {
			t.Error("alpha 1 must not build the sparse arm")
		}
	})
}

func TestRetrievalFiltersAndPageCoercion(t *testing.T) {
	index := newFakeIndex(true)
	index.matches = []interfaces.Match{
		{ID: "a", Score: 0.9, Metadata: map[string]interface{}{
			schema.MetadataKeyText:       "found text",
			schema.MetadataKeyFileName:   "m.pdf",
			schema.MetadataKeyPageNumber: 3.7,
		}},
		{ID: "b", Score: 0.5, Metadata: map[string]interface{}{
			schema.MetadataKeyText:     "no page",
			schema.MetadataKeyFileName: "m.pdf",
		}},
	}
	p := testRetrieval(index)
	results, err := p.Run(context.Background(), &schema.Query{
		Text:           "q",
		FileFilter:     "m.pdf",
		CategoryFilter: "pumps",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	filters := index.queries[0].Filters
	if filters["filename"] != "m.pdf" || filters["product_category"] != "pumps" {
		t.Errorf("unexpected filters: %+v", filters)
	}
	if results[0].Page != 3 {
		t.Errorf("float page must truncate: got %d", results[0].Page)
	}
	if results[1].Page != 1 {
		t.Errorf("missing page must default to 1: got %d", results[1].Page)
	}
	if results[0].Score < results[1].Score {
		t.Error("index order must be preserved")
	}
}

// --- qa ---

func TestQARunStreamsAndExtractsCitations(t *testing.T) {
	index := newFakeIndex(true)
	index.matches = []interfaces.Match{
		{ID: "a", Score: 1, Metadata: map[string]interface{}{
			schema.MetadataKeyText:       "pump install steps",
			schema.MetadataKeyFileName:   "manual.pdf",
			schema.MetadataKeyPageNumber: 4.0,
		}},
	}
	llm := &fakeLLM{deltas: []interfaces.StreamDelta{
		{Text: "Install the pump "},
		{Text: "[manual.pdf, Page 4]."},
	}}
	p := NewQAPipeline(testRetrieval(index), llm, config.TimeoutConfig{}, logger.New("test", ""))

	var streamed strings.Builder
	answer, err := p.Run(context.Background(), &schema.Query{Text: "how to install"}, func(s string) {
		streamed.WriteString(s)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Install the pump [manual.pdf, Page 4]."
	if answer.Session.Current() != want {
		t.Errorf("session text = %q", answer.Session.Current())
	}
	if streamed.String() != want {
		t.Errorf("streamed text = %q", streamed.String())
	}
	if len(answer.Citations) != 1 || answer.Citations[0].Filename != "manual.pdf" || answer.Citations[0].Page != 4 {
		t.Errorf("citations = %+v", answer.Citations)
	}
}

func TestQARunKeepsPartialOnStreamError(t *testing.T) {
	index := newFakeIndex(false)
	llm := &fakeLLM{deltas: []interfaces.StreamDelta{
		{Text: "Partial answer [a.pdf, Page 2] "},
		{Err: errors.New("connection reset")},
	}}
	p := NewQAPipeline(testRetrieval(index), llm, config.TimeoutConfig{}, logger.New("test", ""))

	answer, err := p.Run(context.Background(), &schema.Query{Text: "q"}, nil)
	if err != nil {
		t.Fatalf("stream failure must not fail Run: %v", err)
	}
	if answer.Session.Err() == nil {
		t.Error("session must record the stream error")
	}
	if !strings.Contains(answer.Session.Current(), "Partial answer") {
		t.Error("partial text must be preserved")
	}
	if len(answer.Citations) != 1 {
		t.Errorf("citations from partial text = %+v", answer.Citations)
	}
}

func TestQARunGenerateTimeoutReleasesStream(t *testing.T) {
	index := newFakeIndex(false)
	llm := &endlessLLM{stopped: make(chan struct{})}
	p := NewQAPipeline(testRetrieval(index), llm, config.TimeoutConfig{Generate: "50ms"}, logger.New("test", ""))

	var deliveredAfterReturn atomic.Bool
	var returned atomic.Bool
	answer, err := p.Run(context.Background(), &schema.Query{Text: "q"}, func(string) {
		if returned.Load() {
			deliveredAfterReturn.Store(true)
		}
	})
	returned.Store(true)
	if err != nil {
		t.Fatalf("a timed-out stream must yield a partial answer, not an error: %v", err)
	}
	if answer.Session.Err() == nil {
		t.Error("session must record the deadline error")
	}

	select {
	case <-llm.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("generation stream still running after Run returned")
	}
	if deliveredAfterReturn.Load() {
		t.Error("no delta callback may fire after Run returns")
	}
}

func TestBuildPromptCarriesProvenance(t *testing.T) {
	prompt := buildPrompt("how?", []schema.SearchResult{
		{Text: "step one", Source: "manual.pdf", Page: 2},
	})
	if !strings.Contains(prompt, "From manual.pdf, Page 2:") {
		t.Errorf("prompt missing provenance line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Question: how?") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(prompt, "[<filename>, Page <page>]") {
		t.Error("prompt missing citation instruction")
	}
}

func floatPtr(f float64) *float64 { return &f }
