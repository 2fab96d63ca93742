package app

import (
	"strings"

	"copysensei/pkg/functions"
)

// maxResearchChars caps how much business context reaches the model.
const maxResearchChars = 2000

const promptIntro = "You are CopySensei, an expert copywriting assistant. You help users create compelling marketing copy and provide strategic marketing advice."

const promptCapabilities = `Your capabilities:
1. Generate marketing copy (when explicitly requested)
2. Answer questions about copywriting best practices
3. Provide feedback on existing copy
4. Help with marketing strategy

Be helpful, professional, and concise. When generating copy, make it compelling and aligned with the tone of voice.`

// BuildSystemPrompt renders the CopySensei persona plus whatever project
// context is present. Empty sections are omitted.
func BuildSystemPrompt(c functions.CopyContext) string {
	var b strings.Builder
	b.WriteString(promptIntro)
	b.WriteString("\n\n")
	if tone := strings.TrimSpace(c.ToneOfVoice); tone != "" {
		b.WriteString("Tone of Voice: ")
		b.WriteString(tone)
		b.WriteString("\n\n")
	}
	if research := strings.TrimSpace(c.ResearchData); research != "" {
		b.WriteString("Business Context:\n")
		b.WriteString(truncateRunes(research, maxResearchChars))
		b.WriteString("\n\n")
	}
	if brief := strings.TrimSpace(c.StrategyBrief); brief != "" {
		b.WriteString("Strategy Brief:\n")
		b.WriteString(brief)
		b.WriteString("\n\n")
	}
	if notes := strings.TrimSpace(c.CustomNotes); notes != "" {
		b.WriteString("Custom Notes:\n")
		b.WriteString(notes)
		b.WriteString("\n\n")
	}
	b.WriteString(promptCapabilities)
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
