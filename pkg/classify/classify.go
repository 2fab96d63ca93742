// Package classify decides whether a chat utterance is billable copy generation,
// free project chat, or low-value small talk. Matching is lower-cased substring
// search over fixed keyword tables; there is no tokenization.
package classify

import (
	"fmt"
	"strings"

	"copysensei/pkg/domain"
)

// GenerationKeywords mark a request for generated copy. Any hit makes the message billable.
var GenerationKeywords = []string{
	"generate",
	"write",
	"draft",
	"compose",
	"create a",
	"create some",
	"craft",
	"rewrite",
	"come up with",
	"give me a headline",
	"give me a tagline",
	"give me copy",
}

// UpdateKeywords mark a project-settings conversation, which is free but never low-value.
var UpdateKeywords = []string{
	"change",
	"update",
	"tone",
	"notes",
	"research",
	"strategy",
	"brief",
	"audience",
	"document",
	"project",
}

// SmallTalkPhrases mark greetings and pleasantries.
var SmallTalkPhrases = []string{
	"hello",
	"how are you",
	"thank you",
	"thanks",
	"good morning",
	"good afternoon",
	"good evening",
	"what's up",
	"whats up",
	"nice to meet you",
	"how's it going",
	"who are you",
}

// LowValueAdvisory is shown when small talk is detected.
const LowValueAdvisory = "Let's keep this focused on your copy. Ask me to write something, or tell me what to change about the project."

// Policy controls what happens to low-value chat.
type Policy string

const (
	// PolicyBlock rejects low-value chat before anything is persisted.
	PolicyBlock Policy = "block"
	// PolicyAdvise lets low-value chat through and attaches the advisory.
	PolicyAdvise Policy = "advise"
)

// ParsePolicy maps config input to a Policy. Empty input means PolicyBlock.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyBlock:
		return PolicyBlock, nil
	case PolicyAdvise:
		return PolicyAdvise, nil
	default:
		return "", fmt.Errorf("unknown low-value policy %q", raw)
	}
}

// Result is the combined classification of one utterance.
type Result struct {
	Billable bool
	LowValue bool
	Kind     domain.MessageKind
}

// Classify runs both predicates and derives the message kind.
func Classify(text string) Result {
	billable := IsBillable(text)
	res := Result{
		Billable: billable,
		LowValue: !billable && IsLowValueChat(text),
		Kind:     domain.KindChat,
	}
	if billable {
		res.Kind = domain.KindCopyGeneration
	}
	return res
}

// IsBillable reports whether text requests generated copy.
func IsBillable(text string) bool {
	return containsAny(normalize(text), GenerationKeywords)
}

// IsLowValueChat reports small talk that neither requests copy nor touches the project.
func IsLowValueChat(text string) bool {
	lowered := normalize(text)
	if lowered == "" {
		return false
	}
	if containsAny(lowered, GenerationKeywords) || containsAny(lowered, UpdateKeywords) {
		return false
	}
	return containsAny(lowered, SmallTalkPhrases)
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsAny(text string, needles []string) bool {
	if text == "" {
		return false
	}
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
