package contentgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/postwing/postwing/pkg/models"
)

func TestCharacterLimits(t *testing.T) {
	assert.Equal(t, 280, characterLimit(models.PlatformTwitter))
	assert.Equal(t, 500, characterLimit(models.PlatformThreads))
	assert.Equal(t, 3000, characterLimit(models.PlatformLinkedIn))
}

func TestSystemPromptCarriesPersonaAndLimit(t *testing.T) {
	prompt := systemPrompt(Request{
		Persona:  "dry humor, startup founder",
		Platform: models.PlatformTwitter,
	})
	assert.Contains(t, prompt, "dry humor, startup founder")
	assert.Contains(t, prompt, "280 characters")
}

func TestUserPromptForReplyIncludesTarget(t *testing.T) {
	prompt := userPrompt(Request{
		Action:        models.ActionReply,
		TargetContent: "shipping on a friday, what could go wrong",
	})
	assert.Contains(t, prompt, "shipping on a friday")

	assert.Equal(t, "Write a new post.", userPrompt(Request{Action: models.ActionPost}))
}

func TestCleanStripsQuotesAndTruncates(t *testing.T) {
	assert.Equal(t, "plain text", clean(`"plain text"`, 280))
	assert.Equal(t, "no quotes here", clean("  no quotes here  ", 280))

	long := strings.Repeat("a", 300)
	assert.Len(t, clean(long, 280), 280)

	// multibyte text truncates on rune boundaries
	multi := strings.Repeat("é", 300)
	assert.Equal(t, strings.Repeat("é", 280), clean(multi, 280))
}
