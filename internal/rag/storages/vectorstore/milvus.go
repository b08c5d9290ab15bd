package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"docsearch/internal/config"
	milvusdb "docsearch/internal/database/milvus"
	"docsearch/internal/rag/errs"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/pkg/logger"
)

const (
	// Schema fields of the Milvus collection.
	FieldID              = "id"
	FieldDense           = "dense"
	FieldSparse          = "sparse"
	FieldText            = "text"
	FieldFileName        = "filename"
	FieldPageNumber      = "page_number"
	FieldDocType         = "doc_type"
	FieldProductCategory = "product_category"
	FieldProductID       = "product_id"
	FieldProductName     = "product_name"

	maxVarCharLength = 65535
	maxIDLength      = 256
)

// outputFields are returned with every search hit so results carry their own
// content and provenance.
var outputFields = []string{
	FieldText, FieldFileName, FieldPageNumber, FieldDocType,
	FieldProductCategory, FieldProductID, FieldProductName,
}

// MilvusIndex adapts the Milvus client to the VectorIndex interface. Each
// record carries a dense embedding and a sparse lexical vector in separate
// fields; queries blend the two server-side with a weighted reranker.
type MilvusIndex struct {
	log        *logger.Logger
	client     client.Client
	collection string
	dim        int
	hybrid     bool
}

// NewMilvusIndex creates the VectorIndex adapter and ensures the backing
// collection, its indexes and its load state.
func NewMilvusIndex(ctx context.Context, mc *milvusdb.Client, cfg *config.MilvusConfig, log *logger.Logger) (*MilvusIndex, error) {
	if mc == nil || mc.Client == nil {
		return nil, fmt.Errorf("milvus client is not initialized")
	}
	idx := &MilvusIndex{
		log:        log,
		client:     mc.Client,
		collection: cfg.Collection,
		dim:        cfg.Dim,
		hybrid:     cfg.Hybrid,
	}
	if err := idx.ensureCollection(ctx, cfg.Description); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection, its vector indexes and loads it
// into memory. Existing collections are left untouched.
func (s *MilvusIndex) ensureCollection(ctx context.Context, description string) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", s.collection, err)
	}
	if !has {
		sch := entity.NewSchema().
			WithName(s.collection).
			WithDescription(description).
			WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxIDLength).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(FieldDense).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim))).
			WithField(entity.NewField().WithName(FieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxVarCharLength)).
			WithField(entity.NewField().WithName(FieldFileName).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
			WithField(entity.NewField().WithName(FieldPageNumber).WithDataType(entity.FieldTypeDouble)).
			WithField(entity.NewField().WithName(FieldDocType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(256)).
			WithField(entity.NewField().WithName(FieldProductCategory).WithDataType(entity.FieldTypeVarChar).WithMaxLength(512)).
			WithField(entity.NewField().WithName(FieldProductID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(512)).
			WithField(entity.NewField().WithName(FieldProductName).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		if s.hybrid {
			sch = sch.WithField(entity.NewField().WithName(FieldSparse).WithDataType(entity.FieldTypeSparseVector))
		}
		if err := s.client.CreateCollection(ctx, sch, 1); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", s.collection, err)
		}

		denseIdx, err := entity.NewIndexAUTOINDEX(entity.IP)
		if err != nil {
			return fmt.Errorf("failed to build dense index: %w", err)
		}
		if err := s.client.CreateIndex(ctx, s.collection, FieldDense, denseIdx, false); err != nil {
			return fmt.Errorf("failed to create dense index: %w", err)
		}
		if s.hybrid {
			sparseIdx, err := entity.NewIndexSparseInverted(entity.IP, 0)
			if err != nil {
				return fmt.Errorf("failed to build sparse index: %w", err)
			}
			if err := s.client.CreateIndex(ctx, s.collection, FieldSparse, sparseIdx, false); err != nil {
				return fmt.Errorf("failed to create sparse index: %w", err)
			}
		}
		s.log.Info(fmt.Sprintf("Created Milvus collection %q (dim=%d, hybrid=%v)", s.collection, s.dim, s.hybrid))
	}

	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection %q: %w", s.collection, err)
	}
	return nil
}

// SupportsHybrid reports whether the collection carries a sparse field.
func (s *MilvusIndex) SupportsHybrid() bool { return s.hybrid }

// Exists returns the subset of ids already present in the collection.
func (s *MilvusIndex) Exists(ctx context.Context, ids []string) (map[string]struct{}, error) {
	present := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return present, nil
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("%s in [%s]", FieldID, strings.Join(quoted, ", "))

	rs, err := s.client.Query(ctx, s.collection, nil, expr, []string{FieldID})
	if err != nil {
		return nil, &errs.IndexQueryError{Err: fmt.Errorf("existence check: %w", err)}
	}
	for _, col := range rs {
		if col.Name() != FieldID {
			continue
		}
		idCol, ok := col.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for _, id := range idCol.Data() {
			present[id] = struct{}{}
		}
	}
	return present, nil
}

// Upsert inserts or replaces records by primary key. A batch rejected for
// request size maps to ErrPayloadTooLarge so the caller can split and resend.
func (s *MilvusIndex) Upsert(ctx context.Context, records []*schema.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	dense := make([][]float32, len(records))
	sparse := make([]entity.SparseEmbedding, len(records))
	texts := make([]string, len(records))
	fileNames := make([]string, len(records))
	pages := make([]float64, len(records))
	docTypes := make([]string, len(records))
	categories := make([]string, len(records))
	productIDs := make([]string, len(records))
	productNames := make([]string, len(records))

	for i, rec := range records {
		ids[i] = rec.ID
		dense[i] = rec.Dense
		texts[i] = metaString(rec.Metadata, schema.MetadataKeyText)
		fileNames[i] = metaString(rec.Metadata, schema.MetadataKeyFileName)
		pages[i] = metaFloat(rec.Metadata, schema.MetadataKeyPageNumber)
		docTypes[i] = metaString(rec.Metadata, schema.MetadataKeyType)
		categories[i] = metaString(rec.Metadata, schema.MetadataKeyProductCategory)
		productIDs[i] = metaString(rec.Metadata, schema.MetadataKeyProductID)
		productNames[i] = metaString(rec.Metadata, schema.MetadataKeyProductName)

		if s.hybrid {
			emb, err := toSparseEmbedding(rec.Sparse)
			if err != nil {
				return &errs.IndexUpsertError{Err: fmt.Errorf("record %s: %w", rec.ID, err)}
			}
			sparse[i] = emb
		}
	}

	cols := []entity.Column{
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnFloatVector(FieldDense, s.dim, dense),
		entity.NewColumnVarChar(FieldText, texts),
		entity.NewColumnVarChar(FieldFileName, fileNames),
		entity.NewColumnDouble(FieldPageNumber, pages),
		entity.NewColumnVarChar(FieldDocType, docTypes),
		entity.NewColumnVarChar(FieldProductCategory, categories),
		entity.NewColumnVarChar(FieldProductID, productIDs),
		entity.NewColumnVarChar(FieldProductName, productNames),
	}
	if s.hybrid {
		cols = append(cols, entity.NewColumnSparseVectors(FieldSparse, sparse))
	}

	if _, err := s.client.Upsert(ctx, s.collection, "", cols...); err != nil {
		if isPayloadTooLarge(err) {
			return fmt.Errorf("upsert of %d records: %w", len(records), errs.ErrPayloadTooLarge)
		}
		return &errs.IndexUpsertError{Err: err}
	}
	return nil
}

// Query runs one similarity request. With both arms present the dense and
// sparse sub-searches are blended server-side by a weighted reranker; alpha 1
// or 0 (or a missing sparse vector) degrades to a single-field search.
func (s *MilvusIndex) Query(ctx context.Context, q *interfaces.IndexQuery) ([]interfaces.Match, error) {
	expr := buildFilterExpression(q.Filters)

	useSparse := s.hybrid && len(q.Sparse) > 0 && q.Alpha < 1
	useDense := q.Alpha > 0 || !useSparse

	var (
		results []client.SearchResult
		err     error
	)
	switch {
	case useDense && useSparse:
		results, err = s.hybridSearch(ctx, q, expr)
	case useSparse:
		results, err = s.singleSearch(ctx, FieldSparse, sparseVector(q.Sparse), q.TopK, expr)
	default:
		results, err = s.singleSearch(ctx, FieldDense, entity.FloatVector(q.Dense), q.TopK, expr)
	}
	if err != nil {
		return nil, &errs.IndexQueryError{Err: err}
	}
	return collectMatches(results), nil
}

func (s *MilvusIndex) hybridSearch(ctx context.Context, q *interfaces.IndexQuery, expr string) ([]client.SearchResult, error) {
	denseParam, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	sparseParam, err := entity.NewIndexSparseInvertedSearchParam(0)
	if err != nil {
		return nil, err
	}

	subRequests := []*client.ANNSearchRequest{
		client.NewANNSearchRequest(FieldDense, entity.IP, expr,
			[]entity.Vector{entity.FloatVector(q.Dense)}, denseParam, q.TopK),
		client.NewANNSearchRequest(FieldSparse, entity.IP, expr,
			[]entity.Vector{sparseVector(q.Sparse)}, sparseParam, q.TopK),
	}
	// Reranker weights follow the sub-request order: dense first, sparse
	// second. Alpha 1 is pure semantic, alpha 0 pure keyword.
	reranker := client.NewWeightedReranker([]float64{q.Alpha, 1 - q.Alpha})

	return s.client.HybridSearch(ctx, s.collection, nil, q.TopK, outputFields, reranker, subRequests)
}

func (s *MilvusIndex) singleSearch(ctx context.Context, field string, vec entity.Vector, topK int, expr string) ([]client.SearchResult, error) {
	var sp entity.SearchParam
	var err error
	if field == FieldSparse {
		sp, err = entity.NewIndexSparseInvertedSearchParam(0)
	} else {
		sp, err = entity.NewIndexAUTOINDEXSearchParam(1)
	}
	if err != nil {
		return nil, err
	}
	return s.client.Search(ctx, s.collection, nil, expr, outputFields,
		[]entity.Vector{vec}, field, entity.IP, topK, sp)
}

// collectMatches flattens search results into Matches, preserving the index's
// relevance order. Missing output columns degrade to absent metadata keys.
func collectMatches(results []client.SearchResult) []interfaces.Match {
	var matches []interfaces.Match
	for _, res := range results {
		cols := make(map[string]entity.Column, len(res.Fields))
		for _, field := range res.Fields {
			cols[field.Name()] = field
		}
		for i := 0; i < res.ResultCount; i++ {
			m := interfaces.Match{
				Score:    res.Scores[i],
				Metadata: make(map[string]interface{}, len(outputFields)),
			}
			if res.IDs != nil {
				if id, err := res.IDs.GetAsString(i); err == nil {
					m.ID = id
				}
			}
			for _, name := range outputFields {
				col, ok := cols[name]
				if !ok {
					continue
				}
				switch c := col.(type) {
				case *entity.ColumnVarChar:
					m.Metadata[name] = c.Data()[i]
				case *entity.ColumnDouble:
					m.Metadata[name] = c.Data()[i]
				}
			}
			matches = append(matches, m)
		}
	}
	return matches
}

// buildFilterExpression renders a metadata filter map as a Milvus boolean
// expression; multiple filters apply as a conjunction.
func buildFilterExpression(filters map[string]interface{}) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conditions []string
	for _, key := range keys {
		switch v := filters[key].(type) {
		case string:
			conditions = append(conditions, fmt.Sprintf("%s == %q", key, v))
		case int:
			conditions = append(conditions, fmt.Sprintf("%s == %d", key, v))
		case float64:
			conditions = append(conditions, fmt.Sprintf("%s == %v", key, v))
		}
	}
	return strings.Join(conditions, " and ")
}

// toSparseEmbedding converts a SparseVector map into the SDK's sorted slice
// representation. Milvus rejects all-empty sparse rows, so an empty vector is
// stored as the reserved padding token with negligible weight, which no query
// ever produces.
func toSparseEmbedding(v schema.SparseVector) (entity.SparseEmbedding, error) {
	if len(v) == 0 {
		return entity.NewSliceSparseEmbedding([]uint32{0}, []float32{1e-9})
	}
	positions := make([]uint32, 0, len(v))
	for pos := range v {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	values := make([]float32, len(positions))
	for i, pos := range positions {
		values[i] = v[pos]
	}
	return entity.NewSliceSparseEmbedding(positions, values)
}

func sparseVector(v schema.SparseVector) entity.Vector {
	emb, err := toSparseEmbedding(v)
	if err != nil {
		emb, _ = entity.NewSliceSparseEmbedding([]uint32{0}, []float32{1e-9})
	}
	return emb
}

// isPayloadTooLarge matches the gRPC message-size rejections Milvus returns
// for oversized insert requests.
func isPayloadTooLarge(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message larger than max") ||
		strings.Contains(msg, "payload too large") ||
		strings.Contains(msg, "resourceexhausted")
}

func metaString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

var _ interfaces.VectorIndex = (*MilvusIndex)(nil)
