package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient serves the same two call shapes against a chat-completion
// API that has no server-side sessions: StartChat emulates one by
// keeping the transcript client-side and resending it on every turn.
type OpenAIClient struct {
	client *openai.Client
	model  string
	system string
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(apiKey, baseURL, model, systemPrompt, referrer, title string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// Inject optional headers (useful for OpenRouter)
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		base := http.DefaultTransport
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: base, headers: h}}
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
		system: systemPrompt,
	}
}

func (c *OpenAIClient) StartChat(ctx context.Context, history []Message) (ChatSession, error) {
	s := &openaiSession{client: c}
	if c.system != "" {
		s.transcript = append(s.transcript, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	for _, m := range history {
		s.transcript = append(s.transcript, openai.ChatCompletionMessage{Role: toOpenAIRole(m.Role), Content: m.Text})
	}
	return s, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if c.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	return c.complete(ctx, msgs)
}

func (c *OpenAIClient) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

type openaiSession struct {
	client     *OpenAIClient
	transcript []openai.ChatCompletionMessage
}

func (s *openaiSession) Send(ctx context.Context, message string) (string, error) {
	msgs := append(s.transcript, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
	out, err := s.client.complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	s.transcript = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: out})
	return out, nil
}

func toOpenAIRole(role string) string {
	if role == RoleModel {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
