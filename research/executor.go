package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/researchbot/framework"
)

// DefaultSearchConcurrency bounds how many searches run at once.
const DefaultSearchConcurrency = 4

// SearchExecutor runs a batch of queries and records their evidence.
type SearchExecutor struct {
	Searcher    framework.Searcher
	Concurrency int
	Logger      *zap.Logger
	Telemetry   framework.Telemetry
}

type searchOutcome struct {
	results []framework.SearchResult
	err     error
}

// Execute searches every query in state.CurrentQueries. Searches run
// concurrently, but markers and log entries are assigned afterwards in query
// order, so the outcome does not depend on which search finished first.
// A failed search becomes a SEARCH_ERROR entry; only cancellation of ctx
// aborts the round.
func (e *SearchExecutor) Execute(ctx context.Context, state *ResearchState) error {
	queries := state.CurrentQueries
	outcomes := make([]searchOutcome, len(queries))

	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultSearchConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, q := range queries {
		g.Go(func() error {
			e.emit(gctx, framework.EventSearchCall, q, nil)
			results, err := e.Searcher.Search(gctx, q)
			outcomes[i] = searchOutcome{results: results, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	log := logger(e.Logger)
	for i, q := range queries {
		block := e.combine(state, outcomes[i])
		if outcomes[i].err != nil {
			log.Warn("search failed", zap.String("query", q), zap.Error(outcomes[i].err))
		}
		e.emit(ctx, framework.EventSearchResult, q, map[string]interface{}{
			"sentinel": IsSentinel(block),
		})
		state.SearchQuery = append(state.SearchQuery, q)
		state.WebResearchResult = append(state.WebResearchResult, block)
	}
	state.CurrentQueries = nil
	return nil
}

// combine registers the usable results of one query as sources and returns
// the snippet block for it.
func (e *SearchExecutor) combine(state *ResearchState, out searchOutcome) string {
	if out.err != nil {
		return SearchError
	}
	var lines []string
	for _, r := range out.results {
		title := strings.TrimSpace(r.Title)
		url := strings.TrimSpace(r.URL)
		if title == "" || url == "" {
			continue
		}
		snippet := strings.TrimSpace(r.Snippet)
		marker := fmt.Sprintf("[%d]", len(state.SourcesGathered)+1)
		state.SourcesGathered = append(state.SourcesGathered, Source{
			Title:       title,
			ShortMarker: marker,
			URL:         url,
			Snippet:     snippet,
		})
		lines = append(lines, fmt.Sprintf("%s %s: %s", marker, title, snippet))
	}
	if len(lines) == 0 {
		return NoResults
	}
	return strings.Join(lines, "\n")
}

func (e *SearchExecutor) emit(ctx context.Context, kind framework.EventType, query string, meta map[string]interface{}) {
	if e.Telemetry == nil {
		return
	}
	e.Telemetry.Emit(framework.Event{
		Type:      kind,
		NodeID:    nodeWebResearch,
		RunID:     framework.RunIDFrom(ctx),
		Message:   query,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	})
}
