package research

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// QueryPlanner turns the conversation into the first batch of search queries.
type QueryPlanner struct {
	Model   framework.LanguageModel
	Options *framework.LLMOptions
	Logger  *zap.Logger
	Now     func() time.Time
}

// Plan asks the model for at most maxQueries queries. Unparseable output
// degrades to "no research"; a failed model call is returned as an error.
func (p *QueryPlanner) Plan(ctx context.Context, messages []framework.Message, maxQueries int) (QueryPlan, error) {
	opts := framework.CloneOptions(p.Options)
	opts.System = queryWriterInstructions(now(p.Now), maxQueries)
	resp, err := p.Model.Generate(ctx, messages, opts)
	if err != nil {
		return QueryPlan{}, providerError(nodeGenerateQuery, err)
	}
	plan, ok := decodeQueryPlan(resp.Text, maxQueries)
	if !ok {
		logger(p.Logger).Warn("query plan unparseable, skipping research",
			zap.String("raw", clip(resp.Text, 200)))
	}
	return plan, nil
}

func decodeQueryPlan(raw string, maxQueries int) (QueryPlan, bool) {
	obj, err := parseModelJSON(raw)
	if err != nil {
		return QueryPlan{}, false
	}
	rawQueries, hasQuery := obj["query"]
	rawResearch, hasFlag := obj["do_research"]
	if !hasQuery || !hasFlag {
		return QueryPlan{}, false
	}
	queries, ok := stringList(rawQueries)
	if !ok {
		return QueryPlan{}, false
	}
	shouldResearch, ok := boolValue(rawResearch)
	if !ok {
		return QueryPlan{}, false
	}
	queries = dedupe(queries, nil)
	if maxQueries > 0 && len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return QueryPlan{
		Queries:        queries,
		ShouldResearch: shouldResearch,
		Rationale:      stringValue(obj["rationale"]),
	}, true
}

func now(clock func() time.Time) time.Time {
	if clock == nil {
		return time.Now()
	}
	return clock()
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
