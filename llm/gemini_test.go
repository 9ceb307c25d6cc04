package llm

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/lexcodex/researchbot/framework"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	replies  []string
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(strings.Join(f.replies, "")), nil
}

func (f *fakeGenerator) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.model, f.contents, f.config = model, contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.replies {
			if !yield(textResponse(r), nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     3,
			CandidatesTokenCount: 5,
		},
	}
}

func TestGeminiGenerateMapsRoles(t *testing.T) {
	fake := &fakeGenerator{replies: []string{"done"}}
	client := &GeminiClient{Model: "gemini-test", models: fake}

	resp, err := client.Generate(context.Background(), []framework.Message{
		{Role: framework.RoleSystem, Content: "history rule"},
		framework.UserMessage("hi"),
		{Role: framework.RoleAssistant, Content: "hello"},
		framework.UserMessage("what now"),
	}, &framework.LLMOptions{System: "be precise", Temperature: 0.3, MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, string(genai.FinishReasonStop), resp.FinishReason)
	assert.Equal(t, map[string]int{"prompt_tokens": 3, "completion_tokens": 5}, resp.Usage)

	assert.Equal(t, "gemini-test", fake.model)
	require.Len(t, fake.contents, 3)
	assert.Equal(t, genai.RoleUser, fake.contents[0].Role)
	assert.Equal(t, genai.RoleModel, fake.contents[1].Role)
	assert.Equal(t, "hello", fake.contents[1].Parts[0].Text)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, "be precise\n\nhistory rule", fake.config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, fake.config.Temperature)
	assert.InDelta(t, 0.3, *fake.config.Temperature, 1e-6)
	assert.Equal(t, int32(64), fake.config.MaxOutputTokens)
}

func TestGeminiGenerateModelOverride(t *testing.T) {
	fake := &fakeGenerator{replies: []string{"x"}}
	client := &GeminiClient{Model: "default", models: fake}
	_, err := client.Generate(context.Background(), []framework.Message{framework.UserMessage("q")}, &framework.LLMOptions{Model: "other"})
	require.NoError(t, err)
	assert.Equal(t, "other", fake.model)
	assert.Nil(t, fake.config.SystemInstruction)
}

func TestGeminiGenerateError(t *testing.T) {
	client := &GeminiClient{Model: "m", models: &fakeGenerator{err: errors.New("quota exceeded")}}
	_, err := client.Generate(context.Background(), []framework.Message{framework.UserMessage("q")}, nil)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestGeminiGenerateStream(t *testing.T) {
	fake := &fakeGenerator{replies: []string{"one ", "", "two"}, err: errors.New("cut off")}
	client := &GeminiClient{Model: "m", models: fake}
	ch, err := client.GenerateStream(context.Background(), []framework.Message{framework.UserMessage("q")}, nil)
	require.NoError(t, err)

	var text strings.Builder
	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		text.WriteString(chunk.Text)
	}
	assert.Equal(t, "one two", text.String())
	assert.ErrorContains(t, streamErr, "cut off")
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "m")
	assert.Error(t, err)
}
