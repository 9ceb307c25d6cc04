package research

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// ReflectionEngine judges whether the gathered evidence answers the question
// and proposes follow-up queries when it does not.
type ReflectionEngine struct {
	Model   framework.LanguageModel
	Options *framework.LLMOptions
	Logger  *zap.Logger
	Now     func() time.Time
}

var fallbackVerdict = ReflectionVerdict{KnowledgeGap: "error in reflection."}

// Reflect counts one research loop, asks the model for a verdict and stores
// it on the state. Follow-ups that repeat an executed or staged query are
// dropped.
func (r *ReflectionEngine) Reflect(ctx context.Context, state *ResearchState) (ReflectionVerdict, error) {
	state.ResearchLoopCount++

	var broadenAgainst []string
	if state.broaden {
		broadenAgainst = append([]string{}, state.SearchQuery...)
		state.broaden = false
	}
	prompt := reflectionInstructions(now(r.Now), state.Topic(), state.Summaries(), broadenAgainst)
	resp, err := r.Model.Generate(ctx, []framework.Message{framework.UserMessage(prompt)}, framework.CloneOptions(r.Options))
	if err != nil {
		return ReflectionVerdict{}, providerError(nodeReflection, err)
	}

	verdict, ok := decodeVerdict(resp.Text)
	if !ok {
		logger(r.Logger).Warn("reflection unparseable, using fallback verdict",
			zap.String("raw", clip(resp.Text, 200)))
		verdict = fallbackVerdict
	}
	seen := append(append([]string{}, state.SearchQuery...), state.CurrentQueries...)
	verdict.FollowUpQueries = dedupe(verdict.FollowUpQueries, seen)
	state.Verdict = verdict
	return verdict, nil
}

func decodeVerdict(raw string) (ReflectionVerdict, bool) {
	obj, err := parseModelJSON(raw)
	if err != nil {
		return ReflectionVerdict{}, false
	}
	rawSufficient, ok1 := obj["is_sufficient"]
	rawGap, ok2 := obj["knowledge_gap"]
	rawFollowUps, ok3 := obj["follow_up_queries"]
	if !ok1 || !ok2 || !ok3 {
		return ReflectionVerdict{}, false
	}
	sufficient, ok := boolValue(rawSufficient)
	if !ok {
		return ReflectionVerdict{}, false
	}
	followUps, ok := stringList(rawFollowUps)
	if !ok {
		return ReflectionVerdict{}, false
	}
	return ReflectionVerdict{
		IsSufficient:    sufficient,
		KnowledgeGap:    stringValue(rawGap),
		FollowUpQueries: followUps,
	}, true
}

// dedupe drops blank queries and any query equal, ignoring case and
// surrounding space, to one in seen or to an earlier entry of queries.
func dedupe(queries, seen []string) []string {
	known := make(map[string]struct{}, len(seen)+len(queries))
	for _, q := range seen {
		known[normalizeQuery(q)] = struct{}{}
	}
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		key := normalizeQuery(q)
		if key == "" {
			continue
		}
		if _, dup := known[key]; dup {
			continue
		}
		known[key] = struct{}{}
		out = append(out, strings.TrimSpace(q))
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
