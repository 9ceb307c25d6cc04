package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/lexcodex/researchbot/framework"
)

// contentGenerator is the slice of *genai.Models the client needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiClient implements framework.LanguageModel on the Gemini API.
type GeminiClient struct {
	Model       string
	Temperature float64
	models      contentGenerator
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{Model: model, models: client.Models}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	contents, config := g.buildRequest(messages, options)
	resp, err := g.models.GenerateContent(ctx, g.model(options), contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini error: %w", err)
	}
	return convertGeminiResponse(resp), nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	contents, config := g.buildRequest(messages, options)
	seq := g.models.GenerateContentStream(ctx, g.model(options), contents, config)
	ch := make(chan framework.StreamChunk)
	go func() {
		defer close(ch)
		for resp, err := range seq {
			chunk := framework.StreamChunk{}
			if err != nil {
				chunk.Err = fmt.Errorf("gemini error: %w", err)
			} else if resp != nil {
				chunk.Text = resp.Text()
			}
			if chunk.Err == nil && chunk.Text == "" {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

func (g *GeminiClient) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return g.Model
}

// buildRequest maps the conversation onto Gemini contents. Gemini has no
// system role inside contents, so system turns are folded into the system
// instruction together with options.System.
func (g *GeminiClient) buildRequest(messages []framework.Message, options *framework.LLMOptions) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	var system []string
	if options != nil && strings.TrimSpace(options.System) != "" {
		system = append(system, options.System)
	}
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case framework.RoleSystem:
			system = append(system, msg.Content)
		case framework.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	temperature := g.Temperature
	if options != nil {
		if options.Temperature != 0 {
			temperature = options.Temperature
		}
		if options.MaxTokens > 0 {
			config.MaxOutputTokens = int32(options.MaxTokens)
		}
		if options.TopP != 0 {
			config.TopP = genai.Ptr(float32(options.TopP))
		}
		if len(options.Stop) > 0 {
			config.StopSequences = options.Stop
		}
	}
	if temperature != 0 {
		config.Temperature = genai.Ptr(float32(temperature))
	}
	return contents, config
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) *framework.LLMResponse {
	out := &framework.LLMResponse{}
	if resp == nil {
		return out
	}
	out.Text = resp.Text()
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = map[string]int{
			"prompt_tokens":     int(u.PromptTokenCount),
			"completion_tokens": int(u.CandidatesTokenCount),
		}
	}
	return out
}
