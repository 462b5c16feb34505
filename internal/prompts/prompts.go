package prompts

import (
	"fmt"
	"strings"

	"github.com/jarto666/scriptforge/internal/domain"
)

// angleGuidance maps well-known angle tags to writing direction. Unknown tags
// are passed through verbatim so teams can experiment without code changes.
var angleGuidance = map[string]string{
	"pain_agitation":   "Open on the viewer's pain point, agitate it, then pivot to relief.",
	"problem_solution": "State the problem plainly, then walk through the solution step by step.",
	"social_proof":     "Lead with results, testimonials, or numbers other customers achieved.",
	"us_vs_them":       "Contrast the old painful way against the new way the product enables.",
	"founder_story":    "Tell it first-person as the founder explaining why the product exists.",
}

// ScriptSystemPrompt defines the copywriter role for script generation.
const ScriptSystemPrompt = `You are a senior direct-response copywriter for short-form video ads.
You write spoken-word scripts that sound natural when read aloud, hit the target
duration at a conversational pace (~2.3 words per second), and always follow the
hook / body / call-to-action structure.

Respond with strict JSON only, no markdown fences, in the shape:
{"hook": "...", "body": "...", "cta": "..."}`

// UserPrompt renders the user message for one generation unit.
func UserPrompt(script *domain.Script, platform domain.Platform, tier domain.QualityTier, persona *domain.Persona) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write one %d-second ad script for %s.\n", script.DurationSec, platformLabel(platform))

	guidance, ok := angleGuidance[script.Angle]
	if !ok {
		guidance = "Build the script around this creative angle."
	}
	fmt.Fprintf(&b, "Creative angle: %s. %s\n", script.Angle, guidance)

	if persona != nil {
		fmt.Fprintf(&b, "Voice: %s", persona.Name)
		if persona.Tone != "" {
			fmt.Fprintf(&b, ", tone: %s", persona.Tone)
		}
		if len(persona.Audience) > 0 {
			fmt.Fprintf(&b, ", speaking to: %s", strings.Join(persona.Audience, ", "))
		}
		b.WriteString(".\n")
	}

	switch tier {
	case domain.QualityTierDraft:
		b.WriteString("This is a quick draft: favor speed over polish.\n")
	case domain.QualityTierPremium:
		b.WriteString("This is a premium deliverable: punch up every line, no filler words.\n")
	}

	b.WriteString("Return strict JSON with keys hook, body, cta.")
	return b.String()
}

func platformLabel(p domain.Platform) string {
	switch p {
	case domain.PlatformTikTok:
		return "TikTok"
	case domain.PlatformInstagramReels:
		return "Instagram Reels"
	case domain.PlatformYouTubeShorts:
		return "YouTube Shorts"
	case domain.PlatformFacebook:
		return "Facebook feed"
	default:
		return string(p)
	}
}
