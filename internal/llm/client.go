package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Message roles in the provider's vocabulary.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prompt entry in the provider's request shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the narrow contract the worker consumes: an opaque, possibly
// slow, possibly failing completion call.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Model() string
}

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIClient(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends the messages and returns the generated text. Failures come
// back as *Error with a classified kind.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	request := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
	}
	for _, msg := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		classified := classify(err)
		c.logger.Error("Chat completion failed",
			zap.Error(err),
			zap.String("kind", classified.Kind.String()),
			zap.Int("status", classified.StatusCode))
		return "", classified
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindServer, Message: "no choices in response"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{Kind: KindServer, Message: "no content in response"}
	}

	return content, nil
}
