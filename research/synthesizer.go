package research

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// Apology is returned as the answer when the model produces no text.
const Apology = "I apologize, but I couldn't generate a research response."

// AnswerSynthesizer writes the final cited answer.
type AnswerSynthesizer struct {
	Model   framework.LanguageModel
	Options *framework.LLMOptions
	Logger  *zap.Logger
	Now     func() time.Time
}

// Synthesize asks the model for the answer and resolves citation markers.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, state *ResearchState) error {
	resp, err := s.Model.Generate(ctx, s.messages(state), framework.CloneOptions(s.Options))
	if err != nil {
		return providerError(nodeFinalizeAnswer, err)
	}
	s.finish(state, resp.Text)
	return nil
}

// SynthesizeStream forwards raw text fragments to sink as they arrive, then
// resolves citations over the buffered text.
func (s *AnswerSynthesizer) SynthesizeStream(ctx context.Context, state *ResearchState, sink func(string)) error {
	stream, err := s.Model.GenerateStream(ctx, s.messages(state), framework.CloneOptions(s.Options))
	if err != nil {
		return providerError(nodeFinalizeAnswer, err)
	}
	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				if buf.Len() == 0 {
					sink(Apology)
				}
				s.finish(state, buf.String())
				return nil
			}
			if chunk.Err != nil {
				return providerError(nodeFinalizeAnswer, chunk.Err)
			}
			if chunk.Text == "" {
				continue
			}
			buf.WriteString(chunk.Text)
			sink(chunk.Text)
		}
	}
}

func (s *AnswerSynthesizer) messages(state *ResearchState) []framework.Message {
	prompt := answerInstructions(now(s.Now), state.Topic(), state.Summaries())
	return []framework.Message{framework.UserMessage(prompt)}
}

func (s *AnswerSynthesizer) finish(state *ResearchState, text string) {
	if strings.TrimSpace(text) == "" {
		logger(s.Logger).Warn("model returned an empty answer")
		state.FinalText = Apology
		state.SourcesUsed = nil
		return
	}
	state.FinalText, state.SourcesUsed = resolveCitations(text, state.SourcesGathered)
}

// resolveCitations replaces every marker that occurs in text with its URL and
// returns the sources that were cited, in the order they were gathered.
func resolveCitations(text string, sources []Source) (string, []Source) {
	var used []Source
	for _, src := range sources {
		if src.ShortMarker == "" || !strings.Contains(text, src.ShortMarker) {
			continue
		}
		text = strings.ReplaceAll(text, src.ShortMarker, src.URL)
		used = append(used, src)
	}
	return text, used
}
