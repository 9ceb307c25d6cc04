package experts

import (
	"context"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/research"
)

// DeepResearchExpert runs the multi-round web research loop.
type DeepResearchExpert struct {
	conversation
	runner *research.Runner
	config research.RunConfig
	logger *zap.Logger
}

// NewDeepResearchExpert wraps runner; every request runs with cfg.
func NewDeepResearchExpert(runner *research.Runner, memory framework.ConversationMemory, window int, cfg research.RunConfig, logger *zap.Logger) *DeepResearchExpert {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepResearchExpert{
		conversation: conversation{memory: memory, window: window},
		runner:       runner,
		config:       cfg,
		logger:       logger,
	}
}

func (e *DeepResearchExpert) Info() Info {
	return Info{
		Type:        TypeDeepResearch,
		Name:        "DeepResearchExpert",
		Description: "Plans web searches, reflects on the evidence and writes a cited answer.",
	}
}

func (e *DeepResearchExpert) Process(ctx context.Context, req Request) (*Response, error) {
	return e.answer(ctx, req, nil)
}

// Stream forwards the final answer as it is written. Fragments carry the
// raw [n] citation markers; the returned Response has them resolved.
func (e *DeepResearchExpert) Stream(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	if sink == nil {
		sink = func(string) {}
	}
	return e.answer(ctx, req, sink)
}

func (e *DeepResearchExpert) answer(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	history, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	var result *research.RunResult
	if sink != nil {
		result, err = e.runner.RunStream(ctx, history, e.config, sink)
	} else {
		result, err = e.runner.Run(ctx, history, e.config)
	}
	if err != nil {
		return nil, err
	}
	if err := e.finish(ctx, req.ConversationID, result.FinalText); err != nil {
		return nil, err
	}
	e.logger.Debug("deep research answered",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("loops", result.LoopsRun),
		zap.Int("sources", len(result.SourcesUsed)))
	return &Response{
		Response:       result.FinalText,
		ConversationID: req.ConversationID,
		Expert:         TypeDeepResearch,
		Metadata: map[string]any{
			"sources":        result.SourcesUsed,
			"research_loops": result.LoopsRun,
			"queries":        result.Queries,
		},
	}, nil
}
