package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const analyzePrompt = `You are a medical prescription analyzer. Extract every medicine from the prescription text the user sends.

Reply with a single JSON object and nothing else:
{
  "medicines": [
    {
      "name": "medicine name",
      "dosage": "amount like 500mg",
      "frequency": "how often, like twice daily",
      "duration": "how long, like 7 days",
      "instructions": "special instructions or empty"
    }
  ],
  "diagnosis": "condition if mentioned or empty",
  "doctor_notes": "additional notes or empty",
  "simplified_explanation": "one or two plain sentences for the patient"
}

If there are no medicines, return {"medicines": []}.`

// OpenAIAnalyzer calls an OpenAI-compatible chat completion endpoint in JSON
// mode. Groq, Together and OpenAI all work by changing the base URL.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnalyzer(apiKey, baseURL, model string) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAnalyzer{client: openai.NewClientWithConfig(cfg), model: model}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, text string) (*Analysis, error) {
	text = strings.TrimSpace(text)
	if len(text) < MinTextLength {
		return nil, ErrTextTooShort
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analyzePrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return decodeAnalysis(resp.Choices[0].Message.Content)
}

// decodeAnalysis tolerates a markdown code fence around the JSON.
func decodeAnalysis(content string) (*Analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	kept := out.Medicines[:0]
	for _, m := range out.Medicines {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name != "" {
			kept = append(kept, m)
		}
	}
	out.Medicines = kept
	return &out, nil
}
