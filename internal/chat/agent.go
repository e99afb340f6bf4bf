package chat

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AgentMessage is one turn of conversation history handed to the agent.
type AgentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Agent answers the messages the booking flow doesn't claim.
type Agent interface {
	Reply(ctx context.Context, history []AgentMessage, message string) (string, error)
}

// disabledAgent stands in when no LLM is configured, steering users back
// to the structured flows.
type disabledAgent struct{}

func NewDisabledAgent() Agent {
	return disabledAgent{}
}

func (disabledAgent) Reply(_ context.Context, _ []AgentMessage, _ string) (string, error) {
	return "I can help you book, view, cancel, or reschedule medical appointments. " +
		"Say 'book appointment' to get started, or 'menu' to see your options.", nil
}
