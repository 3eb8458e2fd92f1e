// Package llm generates interviewer turns from the conversation so far.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aivocate/interview-gateway/internal/config"
	"github.com/aivocate/interview-gateway/internal/observability"
)

// systemPrompt frames the model as the interviewer. Responses are kept
// short because they are spoken aloud.
const systemPrompt = `You are an experienced technical interviewer conducting a mock interview.
Ask one question at a time, listen to the candidate's answer, and follow up naturally.
Probe for depth when an answer is shallow, and move on when a topic is exhausted.
Keep every response under three sentences; it will be read aloud to the candidate.
Stay in character as the interviewer for the whole session.`

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in the interview.
type Turn struct {
	Role    string
	Content string
}

// Client produces the interviewer's next utterance.
type Client interface {
	// CompleteTurn generates a response to the conversation. The slice
	// holds the full history; implementations window it as needed.
	CompleteTurn(ctx context.Context, turns []Turn) (string, error)
}

// OpenAIClient implements Client using the chat completions API.
type OpenAIClient struct {
	api          *openai.Client
	model        string
	contextTurns int
	logger       zerolog.Logger
}

// NewOpenAIClient creates an OpenAI-backed turn generator.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	return &OpenAIClient{
		api:          openai.NewClient(cfg.OpenAIAPIKey),
		model:        cfg.LLMModel,
		contextTurns: cfg.LLMContextTurns,
		logger:       observability.GetLogger().With().Str("component", "llm").Logger(),
	}
}

// CompleteTurn sends the windowed history and returns the reply text.
func (c *OpenAIClient) CompleteTurn(ctx context.Context, turns []Turn) (string, error) {
	window := WindowTurns(turns, c.contextTurns)

	messages := make([]openai.ChatCompletionMessage, 0, len(window)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, t := range window {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: t.Content,
		})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("chat completion returned empty content")
	}

	c.logger.Debug().
		Int("history_turns", len(turns)).
		Int("window_turns", len(window)).
		Dur("latency", time.Since(start)).
		Msg("turn generated")
	return reply, nil
}

// WindowTurns returns the last n turns of history. Exported for reuse
// by implementations that window before building requests.
func WindowTurns(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
