package research

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCitationsKeepsGatherOrder(t *testing.T) {
	sources := []Source{
		{Title: "One", ShortMarker: "[1]", URL: "https://one"},
		{Title: "Two", ShortMarker: "[2]", URL: "https://two"},
		{Title: "Ten", ShortMarker: "[10]", URL: "https://ten"},
	}
	text, used := resolveCitations("Fact [10]. Other fact [1]. Again [1].", sources)
	assert.Equal(t, "Fact https://ten. Other fact https://one. Again https://one.", text)
	require.Len(t, used, 2)
	assert.Equal(t, "One", used[0].Title)
	assert.Equal(t, "Ten", used[1].Title)
}

func TestSynthesizeEmptyOutputApologises(t *testing.T) {
	model := newScriptedModel()
	model.answer = func(int) (string, error) { return "   ", nil }
	state := researchedState()
	require.NoError(t, (&AnswerSynthesizer{Model: model}).Synthesize(context.Background(), state))
	assert.Equal(t, Apology, state.FinalText)
	assert.Empty(t, state.SourcesUsed)
}

func TestSynthesizeProviderFailureIsFatal(t *testing.T) {
	model := newScriptedModel()
	model.answer = func(int) (string, error) { return "", errUpstream }
	err := (&AnswerSynthesizer{Model: model}).Synthesize(context.Background(), researchedState())
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, errUpstream)
}

func TestSynthesizeStreamBuffersThenResolves(t *testing.T) {
	model := newScriptedModel()
	model.chunkLen = 3
	model.answer = func(int) (string, error) { return "X is a thing [1].", nil }
	state := researchedState()

	var chunks []string
	err := (&AnswerSynthesizer{Model: model}).SynthesizeStream(context.Background(), state, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, "X is a thing [1].", strings.Join(chunks, ""))
	assert.Equal(t, "X is a thing https://x.", state.FinalText)
	require.Len(t, state.SourcesUsed, 1)
}

func TestSynthesizePromptCarriesSummaries(t *testing.T) {
	model := newScriptedModel()
	state := researchedState()
	require.NoError(t, (&AnswerSynthesizer{Model: model, Now: fixedClock}).Synthesize(context.Background(), state))
	prompt := model.promptsFor("answer")[0]
	assert.Contains(t, prompt, "March 04, 2025")
	assert.Contains(t, prompt, "[1] X: a thing")
}
