package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keithlinneman/diary/internal/llm"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const maxFollowUps = 4

// ErrNoResponses means none of the guided prompts were answered
var ErrNoResponses = errors.New("no valid responses provided")

// Weather is the optional conditions snapshot attached to a guided session
type Weather struct {
	City        string  `json:"city,omitempty"`
	State       string  `json:"state,omitempty"`
	Condition   string  `json:"condition,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Description string  `json:"description,omitempty"`
}

type FollowUpRequest struct {
	Prompts   []string
	Responses []string
	Mood      string
	Weather   *Weather
}

// FollowUps asks the LLM for up to four deeper questions based on the
// answered prompts.
func (g *Generator) FollowUps(ctx context.Context, req FollowUpRequest) ([]string, error) {
	qa := responsesContext(req.Prompts, req.Responses)
	if qa == "" {
		return nil, ErrNoResponses
	}
	if g.llm == nil {
		return nil, llm.ErrNotConfigured
	}
	text, err := g.llm.Complete(ctx, "followup", followUpPrompt(qa, req.Mood, req.Weather))
	if err != nil {
		return nil, xerrors.Wrap(err, "generate follow-up questions")
	}
	return ParseQuestions(text, maxFollowUps), nil
}

// responsesContext pairs each answered prompt with its response
func responsesContext(prompts, responses []string) string {
	var parts []string
	for i, p := range prompts {
		if i >= len(responses) || strings.TrimSpace(responses[i]) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Q: %s\nA: %s", p, responses[i]))
	}
	return strings.Join(parts, "\n\n")
}

func followUpPrompt(qa, mood string, w *Weather) string {
	var b strings.Builder
	b.WriteString("You are a thoughtful journaling assistant. Based on the user's journal responses, generate 2-4 personalized, deep follow-up questions that will help them explore their thoughts and feelings more deeply.\n\n")
	if mood != "" {
		fmt.Fprintf(&b, "The user's current mood is: %s\n", mood)
	}
	if w != nil && w.Condition != "" {
		fmt.Fprintf(&b, "Today's weather: %s, %.0f°F", w.Condition, w.Temperature)
		if w.City != "" {
			fmt.Fprintf(&b, " in %s", strings.TrimSuffix(w.City+", "+w.State, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `
User's Journal Responses:
%s

Instructions:
- Generate 2-4 follow-up questions that are personalized based on what the user shared
- Questions should dive deeper into themes, emotions, or experiences mentioned in their responses
- Ask about patterns, deeper meanings, or connections
- Be empathetic and supportive
- Questions should encourage reflection and self-discovery
- Avoid repeating the original questions
- Make questions specific to what they shared, not generic
- If they mentioned challenges, ask about coping strategies or support needs
- If they mentioned positive experiences, ask about what made them meaningful

Return only the questions, one per line, without numbering or bullet points.`, qa)
	return b.String()
}
