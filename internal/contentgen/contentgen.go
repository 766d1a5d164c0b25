// Package contentgen drafts post and reply text with an LLM when a job
// carries a persona instead of literal content.
package contentgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/postwing/postwing/pkg/models"
)

// Request describes the content to draft.
type Request struct {
	Persona       string
	Platform      models.Platform
	Action        models.Action
	TargetContent string // the post being replied to, when Action is a reply
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// characterLimit returns the platform's post length cap.
func characterLimit(platform models.Platform) int {
	switch platform {
	case models.PlatformTwitter:
		return 280
	case models.PlatformThreads:
		return 500
	default:
		return 3000
	}
}

// OpenAIGenerator drafts content through the chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req)),
			openai.UserMessage(userPrompt(req)),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return clean(resp.Choices[0].Message.Content, characterLimit(req.Platform)), nil
}

func systemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write social media content for %s.\n", req.Platform)
	fmt.Fprintf(&b, "Persona: %s\n", req.Persona)
	fmt.Fprintf(&b, "Hard limit: %d characters. Output only the text to publish, no quotes, no commentary.", characterLimit(req.Platform))
	return b.String()
}

func userPrompt(req Request) string {
	switch req.Action {
	case models.ActionReply, models.ActionComment:
		return fmt.Sprintf("Write a reply to this post:\n\n%s", req.TargetContent)
	default:
		return "Write a new post."
	}
}

// clean strips wrapper quotes models tend to add and enforces the platform
// cap as a last resort.
func clean(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	runes := []rune(text)
	if len(runes) > limit {
		text = string(runes[:limit])
	}
	return strings.TrimSpace(text)
}
