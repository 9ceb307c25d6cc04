package experts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// DefaultTopK is the number of documents retrieved when none is configured.
const DefaultTopK = 3

// RAGExpert answers from documents retrieved for the user's question.
type RAGExpert struct {
	conversation
	model     framework.LanguageModel
	retriever framework.SemanticStore
	topK      int
	options   *framework.LLMOptions
	logger    *zap.Logger
}

// NewRAGExpert builds a retrieval-augmented expert over retriever.
func NewRAGExpert(model framework.LanguageModel, retriever framework.SemanticStore, memory framework.ConversationMemory, window, topK int, options *framework.LLMOptions, logger *zap.Logger) *RAGExpert {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGExpert{
		conversation: conversation{memory: memory, window: window},
		model:        model,
		retriever:    retriever,
		topK:         topK,
		options:      options,
		logger:       logger,
	}
}

func (e *RAGExpert) Info() Info {
	return Info{
		Type:        TypeRAG,
		Name:        "RAGExpert",
		Description: "Answers from the indexed document collection.",
	}
}

func (e *RAGExpert) Process(ctx context.Context, req Request) (*Response, error) {
	return e.answer(ctx, req, nil)
}

func (e *RAGExpert) Stream(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	return e.answer(ctx, req, sink)
}

func (e *RAGExpert) answer(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	history, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	matches, err := e.retriever.Query(ctx, req.Query, e.topK)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}
	opts := framework.CloneOptions(e.options)
	opts.System = ragInstructions(framework.FormatMatches(matches), req.Query)
	text, err := generate(ctx, e.model, history, opts, sink)
	if err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}
	if err := e.finish(ctx, req.ConversationID, text); err != nil {
		return nil, err
	}

	docs := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, map[string]any{"id": m.ID, "title": m.Metadata["title"], "score": m.Score})
	}
	e.logger.Debug("rag answered",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("documents", len(matches)))
	return &Response{
		Response:       text,
		ConversationID: req.ConversationID,
		Expert:         TypeRAG,
		Metadata:       map[string]any{"documents": docs},
	}, nil
}
