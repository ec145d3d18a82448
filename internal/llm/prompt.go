package llm

import (
	"fmt"

	"github.com/kotaroy/painlog/internal/models"
)

const conversationSystemPrompt = `You are an AI assistant helping an indie developer turn everyday pain points into ideas.
Deepen the user's thinking about the recorded pain point along these lines:

1. Clarify the essence of the problem
2. Dig into why the problem happens
3. Explore concretely how it could be solved
4. Weigh feasibility and value

Keep the conversation empathetic and constructive, push toward concrete
examples and actions rather than abstractions, help the user organize their
thoughts, and value user benefit as much as technical solutions.`

const deepeningSystemPrompt = `You are a coach who deepens an indie developer's thinking.
Using the why/how framework, generate three probing questions about the
presented pain point:

1. Why does this problem matter?
2. How could it be solved?
3. Is it worth building?

Make each question concrete and actionable.`

// ConversationPrompt assembles the system preamble, the pain point context,
// and the conversation history in provider order.
func ConversationPrompt(painPoint *models.PainPoint, history []Message) []Message {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages,
		Message{Role: RoleSystem, Content: conversationSystemPrompt},
		Message{Role: RoleUser, Content: painPointContext(painPoint)},
	)
	return append(messages, history...)
}

// DeepeningPrompt asks for initial deepening questions about a pain point.
func DeepeningPrompt(painPoint *models.PainPoint) []Message {
	return []Message{
		{Role: RoleSystem, Content: deepeningSystemPrompt},
		{Role: RoleUser, Content: painPointSummary(painPoint)},
	}
}

// HistoryMessage maps a persisted message to the provider's role vocabulary.
func HistoryMessage(msg *models.Message) Message {
	role := RoleAssistant
	if msg.Sender == models.SenderUser {
		role = RoleUser
	}
	return Message{Role: role, Content: msg.Content}
}

func painPointContext(pp *models.PainPoint) string {
	return fmt.Sprintf(`I'm thinking about this pain point:

Title: %s
Description: %s
Importance: %d
Urgency: %d

Let's work out how it could be solved.`,
		pp.Title, pp.Description, pp.Importance, pp.Urgency)
}

func painPointSummary(pp *models.PainPoint) string {
	return fmt.Sprintf("Pain point: %q\nDetails: %s\nImportance: %d/5\nUrgency: %d/5",
		pp.Title, pp.Description, pp.Importance, pp.Urgency)
}
