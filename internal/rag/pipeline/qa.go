package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docsearch/internal/config"
	"docsearch/internal/rag/citations"
	"docsearch/internal/rag/interfaces"
	"docsearch/internal/rag/schema"
	"docsearch/internal/rag/stream"
	"docsearch/pkg/logger"
)

// QAPipeline turns a query into a streamed, citation-bearing answer: it
// retrieves context, builds a prompt that instructs the model to cite its
// sources, and assembles the generation stream into a session.
type QAPipeline struct {
	retrieval *RetrievalPipeline
	llm       interfaces.LLM
	timeouts  config.TimeoutConfig
	log       *logger.Logger
}

// NewQAPipeline creates a QA pipeline.
func NewQAPipeline(retrieval *RetrievalPipeline, llm interfaces.LLM, timeouts config.TimeoutConfig, log *logger.Logger) *QAPipeline {
	return &QAPipeline{
		retrieval: retrieval,
		llm:       llm,
		timeouts:  timeouts,
		log:       log,
	}
}

// Answer is the result of one question: the assembled session (possibly
// partial on stream failure), the context that was retrieved for it, and the
// citations extracted from the final text.
type Answer struct {
	Session   *stream.Session
	Context   []schema.SearchResult
	Citations []schema.Citation
}

// Run retrieves context and streams the answer, invoking onDelta for each
// text increment as it arrives. Citations are extracted from whatever text
// the session ends up with — a partial generation can still carry complete
// markers.
func (p *QAPipeline) Run(ctx context.Context, q *schema.Query, onDelta func(string)) (*Answer, error) {
	results, err := p.retrieval.Run(ctx, q)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(q.Text, results)
	genCtx, cancel := context.WithTimeout(ctx, config.Timeout(p.timeouts.Generate, 120*time.Second))
	defer cancel()

	deltas, err := p.llm.GenerateStream(genCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}

	session := stream.NewSession()
	if err := session.Consume(genCtx, deltas, onDelta); err != nil {
		// Keep the partial answer; the caller decides how to surface
		// the failure.
		p.log.Warn(fmt.Sprintf("Generation stream ended with error: %v", err))
	}

	return &Answer{
		Session:   session,
		Context:   results,
		Citations: citations.Extract(session.Current()),
	}, nil
}

// buildPrompt renders the retrieved context with its provenance and instructs
// the model to cite sources as [<filename>, Page <n>] so the citation
// extractor can recover them from the answer text.
func buildPrompt(question string, results []schema.SearchResult) string {
	var sb strings.Builder

	sb.WriteString("Answer the question using only the context below. ")
	sb.WriteString("After every statement taken from the context, cite its source ")
	sb.WriteString("in the form [<filename>, Page <page>]. ")
	sb.WriteString("If the context does not contain the answer, say so.\n\nContext:\n")

	for _, r := range results {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("From %s, Page %d:\n%s\n", r.Source, r.Page, r.Text))
	}

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("Question: %s", question))

	return sb.String()
}
