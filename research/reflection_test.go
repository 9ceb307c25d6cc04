package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/researchbot/framework"
)

func researchedState() *ResearchState {
	state := NewState([]framework.Message{framework.UserMessage("What is X?")}, DefaultRunConfig())
	state.SearchQuery = []string{"x overview", "x history"}
	state.WebResearchResult = []string{"[1] X: a thing", SearchError}
	state.SourcesGathered = []Source{{Title: "X", ShortMarker: "[1]", URL: "https://x", Snippet: "a thing"}}
	return state
}

func TestReflectionFiltersRepeatedFollowUps(t *testing.T) {
	model := newScriptedModel()
	model.reflect = func(int) (string, error) {
		return "```json\n{\"is_sufficient\": false, \"knowledge_gap\": \"dates\", \"follow_up_queries\": [\"X Overview \", \"staged one\", \"x timeline\", \"X TIMELINE\", \"  \"]}\n```", nil
	}
	state := researchedState()
	state.CurrentQueries = []string{"staged one"}

	r := &ReflectionEngine{Model: model, Now: fixedClock}
	verdict, err := r.Reflect(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ResearchLoopCount)
	assert.False(t, verdict.IsSufficient)
	assert.Equal(t, "dates", verdict.KnowledgeGap)
	assert.Equal(t, []string{"x timeline"}, verdict.FollowUpQueries)
	assert.Equal(t, verdict, state.Verdict)
}

func TestReflectionPromptSkipsSentinels(t *testing.T) {
	model := newScriptedModel()
	state := researchedState()
	r := &ReflectionEngine{Model: model}
	_, err := r.Reflect(context.Background(), state)
	require.NoError(t, err)

	prompts := model.promptsFor("reflect")
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Query: x overview\n\nSearch Results: [1] X: a thing")
	assert.NotContains(t, prompts[0], "x history")
	assert.NotContains(t, prompts[0], SearchError)
	assert.Contains(t, prompts[0], `"What is X?"`)
}

func TestReflectionFallbackVerdict(t *testing.T) {
	model := newScriptedModel()
	model.reflect = func(int) (string, error) { return "I think we are done here.", nil }
	state := researchedState()
	r := &ReflectionEngine{Model: model}
	verdict, err := r.Reflect(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, ReflectionVerdict{KnowledgeGap: "error in reflection.", FollowUpQueries: []string{}}, verdict)
	assert.Equal(t, 1, state.ResearchLoopCount)
}

func TestReflectionBroadenDirective(t *testing.T) {
	model := newScriptedModel()
	state := researchedState()
	state.broaden = true
	r := &ReflectionEngine{Model: model}
	_, err := r.Reflect(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, state.broaden)
	prompt := model.promptsFor("reflect")[0]
	assert.Contains(t, prompt, "proposed nothing new")
	assert.Contains(t, prompt, "  - x overview\n  - x history")
}

func TestReflectionProviderFailureIsFatal(t *testing.T) {
	model := newScriptedModel()
	model.reflect = func(int) (string, error) { return "", errUpstream }
	_, err := (&ReflectionEngine{Model: model}).Reflect(context.Background(), researchedState())
	assert.ErrorIs(t, err, ErrProvider)
}
