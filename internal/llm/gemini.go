package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API, using its native server-side
// chat sessions for the stateful shape.
type GeminiClient struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGemini(ctx context.Context, apiKey, model, systemPrompt string, temperature float64, thinkingBudget int32) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if thinkingBudget >= 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(thinkingBudget)}
	}

	return &GeminiClient{client: client, model: model, config: cfg}, nil
}

func (c *GeminiClient) StartChat(ctx context.Context, history []Message) (ChatSession, error) {
	var contents []*genai.Content
	for _, m := range history {
		contents = append(contents, genai.NewContentFromText(m.Text, genai.Role(m.Role)))
	}
	chat, err := c.client.Chats.Create(ctx, c.model, c.config, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	return &geminiSession{chat: chat}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.config)
	if err != nil {
		return "", fmt.Errorf("generate content failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type geminiSession struct {
	chat *genai.Chat
}

func (s *geminiSession) Send(ctx context.Context, message string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", fmt.Errorf("send message failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
