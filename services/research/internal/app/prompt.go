package app

import (
	"fmt"
	"strings"

	"copysensei/pkg/docparse"
)

const systemInstruction = "You are a business research assistant. You MUST respond with ONLY valid JSON, no additional text or formatting."

const researchBrief = `You are an elite copywriting researcher combining expertise in consumer psychology, market analysis, conversion optimization and persuasive writing.

MISSION: Provide everything needed to write world-class, high-converting copy for %[1]s

PHASE 1 - PAGE DEEP DIVE (visit %[1]s first):
1. Read every word on the page
2. Identify the offer, goal and current approach
3. Note what is strong and what is weak

PHASE 2 - MARKET INTELLIGENCE:
4. Research 3-5 direct competitors
5. Find customer reviews, Reddit discussions and forum posts
6. Analyze industry trends and positioning gaps
7. Identify psychological triggers that work in this niche

PHASE 3 - SYNTHESIS:
8. Combine findings into actionable copywriting intelligence
9. Provide specific, evidence-based recommendations with real quotes and examples

OUTPUT FORMAT
Respond with ONLY valid JSON (no markdown, no explanation) using exactly these top-level keys:

{
  "page_snapshot": {"current_headline": "", "current_value_prop": "", "current_cta": "", "page_type": "", "page_goal": "", "what_works": [], "what_needs_improvement": [], "missing_elements": []},
  "audience_intelligence": {
    "primary_avatar": {"who": "", "sophistication_level": "", "buying_motivation": "", "decision_timeline": ""},
    "pain_points": {"surface_level": [], "deeper_pain": [], "cost_of_inaction": ""},
    "desires_and_goals": {"functional_outcome": "", "emotional_outcome": "", "social_outcome": "", "transformation": ""},
    "objections_by_priority": [{"objection": "", "severity": "", "how_to_overcome": ""}]
  },
  "voice_of_customer": {"pain_language": [], "desire_language": [], "transformation_language": [], "objection_phrases": [], "trigger_words": [], "sources": []},
  "competitive_intelligence": {
    "competitors": [{"name": "", "url": "", "positioning": "", "headline_approach": "", "strength": "", "weakness": "", "customer_complaints": ""}],
    "market_gap": "", "winning_differentiation": "", "competitive_advantage": ""
  },
  "conversion_psychology": {"primary_trigger": "", "secondary_triggers": [], "trust_builders_needed": [], "risk_reversals": [], "scarcity_authenticity": "", "social_proof_strategy": ""},
  "copywriting_blueprint": {
    "headline_strategy": {"approach": "", "options": [{"headline": "", "why": ""}]},
    "opening_hook": {"pattern": "", "first_sentence": "", "hook_purpose": ""},
    "value_prop_hierarchy": [],
    "proof_stack": {"order": [], "types_needed": [], "credibility_markers": []},
    "cta_strategy": {"primary_cta": "", "cta_placement": "", "friction_reducers": [], "alternatives": []},
    "objection_sequence": [{"objection": "", "placement": "", "rebuttal": ""}]
  },
  "messaging_guidelines": {"tone": "", "voice": "", "reading_level": "", "power_words": [], "words_to_avoid": [], "pacing": "", "storytelling_angle": ""},
  "page_structure_recommendation": {"sections_in_order": [], "length_guidance": "", "visual_elements": ""},
  "evidence_and_sources": {"confidence_level": "", "data_sources": [], "assumptions": [], "gaps": []}
}

Every insight must be specific to %[1]s, not generic advice. Cite competitors with URLs and use real customer language.
BE RUTHLESSLY SPECIFIC. Bad: "emphasize benefits". Good: "Lead with 'Cut onboarding time by 67%%' because competitors focus on features while customers complain about implementation time".`

// BuildPrompt renders the research brief for websiteURL. A non-empty page
// snapshot is appended so the model starts from what the page actually says.
func BuildPrompt(websiteURL, projectName string, snap docparse.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, researchBrief, websiteURL)
	if name := strings.TrimSpace(projectName); name != "" {
		fmt.Fprintf(&b, "\n\nThe business is known internally as %q.", name)
	}
	if !snap.IsZero() {
		b.WriteString("\n\nCURRENT PAGE SNAPSHOT (fetched just now):\n")
		b.WriteString(snap.String())
	}
	return b.String()
}
