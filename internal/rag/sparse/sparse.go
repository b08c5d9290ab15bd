// Package sparse builds BM25-weighted lexical vectors for hybrid search.
//
// Document frequencies are computed over the batch being encoded, not over
// the whole corpus. Batch-local IDF is a deliberate approximation: it keeps
// ingestion stateless and resumable, at the cost of weights that are only
// comparable within the batch they were computed over. Callers must not
// assume IDF stability across batches.
package sparse

import (
	"fmt"
	"math"

	"github.com/pkoukk/tiktoken-go"

	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
)

// BM25 parameters, matching the values the index was originally built with.
const (
	k1 = 1.5
	b  = 0.75
)

// reservedTokenIDs are tokenizer bookkeeping ids that never carry lexical
// signal and are excluded from scoring.
var reservedTokenIDs = map[uint32]struct{}{0: {}, 1: {}, 2: {}}

// Encoder tokenizes text with a fixed tiktoken encoding and produces sparse
// BM25 vectors. The tokenizer is stable and deterministic across calls, so
// identical batches always yield identical vectors.
type Encoder struct {
	tokenizer *tiktoken.Tiktoken
}

// NewEncoder creates an Encoder backed by the cl100k_base encoding, the same
// vocabulary the token splitter uses elsewhere in the pipeline.
func NewEncoder() (*Encoder, error) {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &Encoder{tokenizer: tke}, nil
}

// Build scores every text of the batch against the batch itself and returns
// one sparse vector per input, in input order. Zero-weight terms are omitted,
// so a document without scoring tokens yields an empty vector.
func (e *Encoder) Build(texts []string) []schema.SparseVector {
	if len(texts) == 0 {
		return nil
	}

	docs := make([][]uint32, len(texts))
	for i, text := range texts {
		docs[i] = e.tokenize(text)
	}

	// Batch-local document frequencies and average document length.
	n := float64(len(docs))
	df := make(map[uint32]int)
	totalLen := 0
	for _, tokens := range docs {
		totalLen += len(tokens)
		seen := make(map[uint32]struct{}, len(tokens))
		for _, id := range tokens {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			df[id]++
		}
	}
	avgLen := float64(totalLen) / n

	vectors := make([]schema.SparseVector, len(docs))
	for i, tokens := range docs {
		vec := make(schema.SparseVector)
		vectors[i] = vec

		// A batch of empty documents leaves avgLen at zero; scoring would
		// divide by it, so such documents fail soft with an empty vector.
		if avgLen == 0 {
			continue
		}

		tf := make(map[uint32]int, len(tokens))
		for _, id := range tokens {
			tf[id]++
		}
		docLen := float64(len(tokens))

		for id, freq := range tf {
			if _, reserved := reservedTokenIDs[id]; reserved {
				continue
			}
			idf := math.Max(0, math.Log((n-float64(df[id])+0.5)/(float64(df[id])+0.5)))
			score := idf * (float64(freq) * (k1 + 1)) /
				(float64(freq) + k1*(1-b+b*docLen/avgLen))
			if score > 0 {
				vec[id] = float32(score)
			}
		}
	}

	return vectors
}

// BuildQuery weights a single query string by plain term frequency. A query
// is its own one-document batch, which makes BM25 IDF degenerate (every term
// appears in every document), so raw counts are the stable choice for the
// query-side lexical arm.
func (e *Encoder) BuildQuery(text string) schema.SparseVector {
	vec := make(schema.SparseVector)
	for _, id := range e.tokenize(text) {
		if _, reserved := reservedTokenIDs[id]; reserved {
			continue
		}
		vec[id]++
	}
	return vec
}

func (e *Encoder) tokenize(text string) []uint32 {
	ids := e.tokenizer.Encode(text, nil, nil)
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id)
	}
	return out
}

var _ interfaces.SparseEncoder = (*Encoder)(nil)
