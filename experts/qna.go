package experts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// QnAExpert answers straight from the model using the recent conversation.
type QnAExpert struct {
	conversation
	model   framework.LanguageModel
	options *framework.LLMOptions
	logger  *zap.Logger
}

// NewQnAExpert builds a QnA expert. window bounds the history sent to the model.
func NewQnAExpert(model framework.LanguageModel, memory framework.ConversationMemory, window int, options *framework.LLMOptions, logger *zap.Logger) *QnAExpert {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QnAExpert{
		conversation: conversation{memory: memory, window: window},
		model:        model,
		options:      options,
		logger:       logger,
	}
}

func (e *QnAExpert) Info() Info {
	return Info{
		Type:        TypeQnA,
		Name:        "QnAExpert",
		Description: "Answers directly from the language model with recent conversation context.",
	}
}

func (e *QnAExpert) Process(ctx context.Context, req Request) (*Response, error) {
	return e.answer(ctx, req, nil)
}

func (e *QnAExpert) Stream(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	return e.answer(ctx, req, sink)
}

func (e *QnAExpert) answer(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	history, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	opts := framework.CloneOptions(e.options)
	opts.System = qnaSystemPrompt
	text, err := generate(ctx, e.model, history, opts, sink)
	if err != nil {
		return nil, fmt.Errorf("qna: %w", err)
	}
	if err := e.finish(ctx, req.ConversationID, text); err != nil {
		return nil, err
	}
	e.logger.Debug("qna answered",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("history", len(history)))
	return &Response{Response: text, ConversationID: req.ConversationID, Expert: TypeQnA}, nil
}
