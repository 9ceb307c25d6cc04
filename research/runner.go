package research

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

const (
	nodeGenerateQuery  = "generate_query"
	nodeWebResearch    = "web_research"
	nodeReflection     = "reflection"
	nodeFinalizeAnswer = "finalize_answer"
)

// Runner executes deep-research runs. A Runner holds no per-run state and is
// safe for concurrent use.
type Runner struct {
	model       framework.LanguageModel
	queryModel  framework.LanguageModel
	searcher    framework.Searcher
	options     *framework.LLMOptions
	concurrency int
	logger      *zap.Logger
	telemetry   framework.Telemetry
	clock       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithQueryModel uses m for query generation and reflection. The main model
// still writes the final answer.
func WithQueryModel(m framework.LanguageModel) Option {
	return func(r *Runner) { r.queryModel = m }
}

// WithModelOptions sets the options passed on every model call.
func WithModelOptions(opts *framework.LLMOptions) Option {
	return func(r *Runner) { r.options = opts }
}

// WithSearchConcurrency bounds parallel searches within one round.
func WithSearchConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithTelemetry(t framework.Telemetry) Option {
	return func(r *Runner) { r.telemetry = t }
}

// WithClock fixes the date rendered into prompts.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// NewRunner builds a Runner over the given ports.
func NewRunner(model framework.LanguageModel, searcher framework.Searcher, opts ...Option) *Runner {
	r := &Runner{
		model:       model,
		searcher:    searcher,
		concurrency: DefaultSearchConcurrency,
		logger:      zap.NewNop(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queryModel == nil {
		r.queryModel = model
	}
	return r
}

// Run answers the conversation's last question with a cited answer.
func (r *Runner) Run(ctx context.Context, history []framework.Message, cfg RunConfig) (*RunResult, error) {
	return r.run(ctx, history, cfg, nil)
}

// RunStream behaves like Run but forwards answer fragments to sink while the
// final answer is generated. Fragments still carry raw [n] markers; the
// returned result has them resolved.
func (r *Runner) RunStream(ctx context.Context, history []framework.Message, cfg RunConfig, sink func(string)) (*RunResult, error) {
	if sink == nil {
		sink = func(string) {}
	}
	return r.run(ctx, history, cfg, sink)
}

func (r *Runner) run(ctx context.Context, history []framework.Message, cfg RunConfig, sink func(string)) (*RunResult, error) {
	cfg = cfg.normalized()
	if framework.RunIDFrom(ctx) == "" {
		ctx = framework.WithRunID(ctx, uuid.NewString())
	}
	log := r.logger.With(zap.String("run_id", framework.RunIDFrom(ctx)))

	graph, err := r.buildGraph(cfg, sink, log)
	if err != nil {
		return nil, err
	}
	state := NewState(history, cfg)
	start := time.Now()
	trace, err := graph.Execute(ctx, state)
	if err != nil {
		log.Error("research run failed", zap.Error(err), zap.Int("steps", trace.Steps))
		return nil, err
	}
	log.Info("research run finished",
		zap.Int("steps", trace.Steps),
		zap.Int("loops", state.ResearchLoopCount),
		zap.Int("queries", len(state.SearchQuery)),
		zap.Int("sources_used", len(state.SourcesUsed)),
		zap.Duration("elapsed", time.Since(start)))
	return state.Result(), nil
}

func (r *Runner) buildGraph(cfg RunConfig, sink func(string), log *zap.Logger) (*framework.Graph[*ResearchState], error) {
	planner := &QueryPlanner{Model: r.queryModel, Options: r.options, Logger: log, Now: r.clock}
	executor := &SearchExecutor{Searcher: r.searcher, Concurrency: r.concurrency, Logger: log, Telemetry: r.telemetry}
	reflector := &ReflectionEngine{Model: r.queryModel, Options: r.options, Logger: log, Now: r.clock}
	synth := &AnswerSynthesizer{Model: r.model, Options: r.options, Logger: log, Now: r.clock}
	loop := LoopController{BroadenOnEmptyFollowUps: cfg.BroadenOnEmptyFollowUps}

	graph := framework.NewGraph[*ResearchState]()
	graph.SetMaxSteps(cfg.RecursionLimit)
	if r.telemetry != nil {
		graph.SetTelemetry(r.telemetry)
	}

	nodes := []framework.Node[*ResearchState]{
		framework.NewFuncNode(nodeGenerateQuery, framework.NodeTypeLLM, func(ctx context.Context, s *ResearchState) error {
			plan, err := planner.Plan(ctx, s.Messages, s.InitialSearchQueryCount)
			if err != nil {
				return err
			}
			s.Plan = plan
			s.CurrentQueries = append([]string(nil), plan.Queries...)
			return nil
		}),
		framework.NewFuncNode(nodeWebResearch, framework.NodeTypeTool, executor.Execute),
		framework.NewFuncNode(nodeReflection, framework.NodeTypeLLM, func(ctx context.Context, s *ResearchState) error {
			_, err := reflector.Reflect(ctx, s)
			return err
		}),
		framework.NewFuncNode(nodeFinalizeAnswer, framework.NodeTypeTerminal, func(ctx context.Context, s *ResearchState) error {
			if sink != nil {
				return synth.SynthesizeStream(ctx, s, sink)
			}
			return synth.Synthesize(ctx, s)
		}),
	}
	for _, n := range nodes {
		if err := graph.AddNode(n); err != nil {
			return nil, err
		}
	}
	if err := graph.SetStart(nodeGenerateQuery); err != nil {
		return nil, err
	}
	if err := graph.AddRouter(nodeGenerateQuery, routeAfterPlan, map[string]string{
		nodeWebResearch:    nodeWebResearch,
		nodeFinalizeAnswer: nodeFinalizeAnswer,
	}); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeWebResearch, nodeReflection, nil); err != nil {
		return nil, err
	}
	if err := graph.AddRouter(nodeReflection, func(s *ResearchState) string {
		return string(loop.Advance(s))
	}, map[string]string{
		string(DecisionSearchAgain):  nodeWebResearch,
		string(DecisionFinalize):     nodeFinalizeAnswer,
		string(DecisionReflectAgain): nodeReflection,
	}); err != nil {
		return nil, err
	}
	return graph, nil
}

func routeAfterPlan(s *ResearchState) string {
	if s.Plan.ShouldResearch && len(s.CurrentQueries) > 0 {
		return nodeWebResearch
	}
	return nodeFinalizeAnswer
}
