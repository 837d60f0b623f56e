package caption

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const visionPrompt = "Write concise alternative text for this image, for a screen reader user. " +
	"One sentence, no more than 15 words, no leading phrase such as \"Image of\". " +
	"If the image is purely decorative answer with an empty string."

// OpenAI captions images with a vision-capable chat model.
type OpenAI struct {
	client *openai.Client
	model  string
	hasKey bool
}

// NewOpenAI returns an OpenAI backend. baseURL overrides the API endpoint
// when non-empty, for compatible self-hosted servers.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, hasKey: apiKey != ""}
}

// Describe implements Describer.
func (o *OpenAI) Describe(ctx context.Context, imageURL string) (string, error) {
	if !o.hasKey {
		return "", ErrNoCredentials
	}
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: 60,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("caption: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("caption: openai: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
