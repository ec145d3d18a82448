package llm

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/kotaroy/painlog/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"401 maps to auth", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, KindAuth},
		{"429 maps to rate limit", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, KindRateLimit},
		{"400 maps to client", &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}, KindClient},
		{"503 maps to server", &openai.APIError{HTTPStatusCode: 503, Message: "down"}, KindServer},
		{"request error 500", &openai.RequestError{HTTPStatusCode: 500, Err: errors.New("boom")}, KindServer},
		{"deadline maps to timeout", context.DeadlineExceeded, KindTimeout},
		{"unknown maps to server", errors.New("weird"), KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)
			require.Equal(t, tt.kind, classified.Kind)
		})
	}
}

func TestConversationPrompt(t *testing.T) {
	pp := &models.PainPoint{
		Title:       "Context switching kills focus",
		Description: "Every notification derails me for twenty minutes",
		Importance:  4,
		Urgency:     3,
	}
	history := []Message{
		{Role: RoleUser, Content: "why is this hard?"},
		{Role: RoleAssistant, Content: "Let's break it down."},
	}

	prompt := ConversationPrompt(pp, history)
	require.Len(t, prompt, 4)
	require.Equal(t, RoleSystem, prompt[0].Role)
	require.Equal(t, RoleUser, prompt[1].Role)
	require.Contains(t, prompt[1].Content, pp.Title)
	require.Contains(t, prompt[1].Content, pp.Description)
	require.Equal(t, history[0], prompt[2])
	require.Equal(t, history[1], prompt[3])
}

func TestDeepeningPrompt(t *testing.T) {
	pp := &models.PainPoint{Title: "Too many tabs", Description: "I lose track", Importance: 2, Urgency: 1}

	prompt := DeepeningPrompt(pp)
	require.Len(t, prompt, 2)
	require.Equal(t, RoleSystem, prompt[0].Role)
	require.Contains(t, prompt[1].Content, "Too many tabs")
}

func TestHistoryMessage(t *testing.T) {
	user := HistoryMessage(&models.Message{Sender: models.SenderUser, Content: "hi"})
	require.Equal(t, RoleUser, user.Role)

	ai := HistoryMessage(&models.Message{Sender: models.SenderAI, Content: "hello"})
	require.Equal(t, RoleAssistant, ai.Role)
}
