package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiSystemPrompt = `You are a friendly assistant for a medical clinic's WhatsApp line.
Answer general questions about the clinic briefly and warmly.
You cannot book, cancel, or reschedule appointments yourself; when the user wants any of
those, tell them to say "book appointment", "view my appointments", or "menu".
Never give medical advice; suggest speaking with a doctor instead.
Keep replies under 100 words.`

// GeminiAgent answers off-flow messages with a Gemini chat model, feeding
// it the stored conversation history.
type GeminiAgent struct {
	client  *genai.Client
	modelID string
}

func NewGeminiAgent(ctx context.Context, apiKey, modelID string) (*GeminiAgent, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiAgent{client: client, modelID: modelID}, nil
}

func (a *GeminiAgent) Close() error {
	return a.client.Close()
}

func (a *GeminiAgent) Reply(ctx context.Context, history []AgentMessage, message string) (string, error) {
	model := a.client.GenerativeModel(a.modelID)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiSystemPrompt)},
	}

	session := model.StartChat()
	session.History = toGeminiHistory(history)

	resp, err := session.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", fmt.Errorf("gemini send message: %w", err)
	}

	text := extractText(resp)
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}

func toGeminiHistory(history []AgentMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

func extractText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
