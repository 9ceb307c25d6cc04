package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/llm"
	"github.com/lexcodex/researchbot/persistence"
	"github.com/lexcodex/researchbot/research"
	"github.com/lexcodex/researchbot/search"
)

// runtime is the fully wired application.
type runtime struct {
	cfg       framework.Config
	logger    *zap.Logger
	engine    *experts.ChatEngine
	documents *persistence.InMemoryVectorStore
	closers   []io.Closer
}

func (r *runtime) Close() error {
	var errs []error
	if r.engine != nil {
		errs = append(errs, r.engine.Close())
	}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	_ = r.logger.Sync()
	return errors.Join(errs...)
}

// buildRuntime wires every component from cfg. traceOut, when non-nil,
// receives coloured graph progress.
func buildRuntime(ctx context.Context, cfg framework.Config, traceOut io.Writer) (*runtime, error) {
	logger, err := framework.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	telemetry, err := rt.buildTelemetry(traceOut)
	if err != nil {
		return nil, err
	}

	model, err := newLanguageModel(ctx, cfg.LLM, cfg.LLM.Model, logger)
	if err != nil {
		return nil, err
	}
	model = llm.NewInstrumentedModel(model, telemetry, cfg.LLM.Debug)

	runnerOpts := []research.Option{
		research.WithModelOptions(&framework.LLMOptions{Temperature: cfg.LLM.Temperature}),
		research.WithSearchConcurrency(cfg.Search.Concurrency),
		research.WithLogger(logger.Named("research")),
		research.WithTelemetry(telemetry),
	}
	if cfg.LLM.QueryModel != "" && cfg.LLM.QueryModel != cfg.LLM.Model {
		queryModel, err := newLanguageModel(ctx, cfg.LLM, cfg.LLM.QueryModel, logger)
		if err != nil {
			return nil, err
		}
		runnerOpts = append(runnerOpts, research.WithQueryModel(llm.NewInstrumentedModel(queryModel, telemetry, cfg.LLM.Debug)))
	}

	searcher, err := newSearcher(cfg.Search)
	if err != nil {
		return nil, err
	}

	memory, err := persistence.Open(ctx, cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	rt.documents = persistence.NewInMemoryVectorStore()
	if cfg.RAG.DocumentsPath != "" {
		n, err := persistence.LoadDocuments(ctx, rt.documents, cfg.RAG.DocumentsPath)
		if err != nil {
			_ = memory.Close()
			return nil, fmt.Errorf("load documents: %w", err)
		}
		logger.Info("documents loaded", zap.Int("count", n), zap.String("path", cfg.RAG.DocumentsPath))
	}

	initial, err := experts.ParseType(cfg.Expert)
	if err != nil {
		_ = memory.Close()
		return nil, err
	}
	answerOpts := &framework.LLMOptions{Temperature: cfg.LLM.Temperature}
	window := cfg.Memory.WindowSize
	runner := research.NewRunner(model, searcher, runnerOpts...)
	rt.engine, err = experts.NewChatEngine(memory, initial, logger.Named("chat"),
		experts.NewQnAExpert(model, memory, window, answerOpts, logger.Named("qna")),
		experts.NewRAGExpert(model, rt.documents, memory, window, cfg.RAG.TopK, answerOpts, logger.Named("rag")),
		experts.NewDeepResearchExpert(runner, memory, window, research.RunConfigFrom(cfg.Research), logger.Named("deepresearch")),
	)
	if err != nil {
		_ = memory.Close()
		return nil, err
	}
	ok = true
	return rt, nil
}

func (r *runtime) buildTelemetry(traceOut io.Writer) (framework.Telemetry, error) {
	sinks := []framework.Telemetry{framework.ZapTelemetry{Logger: r.logger.Named("graph")}}
	if traceOut != nil {
		sinks = append(sinks, &framework.ConsoleTelemetry{Out: traceOut})
	}
	if path := r.cfg.Logging.TelemetryPath; path != "" {
		file, err := framework.NewJSONFileTelemetry(path)
		if err != nil {
			return nil, fmt.Errorf("open telemetry file: %w", err)
		}
		r.closers = append(r.closers, file)
		sinks = append(sinks, file)
	}
	return framework.MultiplexTelemetry{Sinks: sinks}, nil
}

func newLanguageModel(ctx context.Context, cfg framework.LLMConfig, model string, logger *zap.Logger) (framework.LanguageModel, error) {
	switch cfg.Provider {
	case framework.ProviderGemini:
		client, err := llm.NewGeminiClient(ctx, cfg.APIKey, model)
		if err != nil {
			return nil, err
		}
		client.Temperature = cfg.Temperature
		return client, nil
	case framework.ProviderOllama:
		client := llm.NewClient(cfg.Endpoint, model)
		client.Debug = cfg.Debug
		client.Logger = logger.Named("ollama")
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newSearcher(cfg framework.SearchConfig) (framework.Searcher, error) {
	switch cfg.Provider {
	case framework.ProviderTavily:
		return search.NewTavily(cfg.APIKey, cfg.Depth, cfg.MaxResults), nil
	case framework.ProviderDuckDuckGo:
		return search.NewDuckDuckGo(cfg.MaxResults), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}
