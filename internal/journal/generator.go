// Package journal builds the reflective questions offered when a user starts
// an entry. Questions come from canned templates keyed by the day's rating
// and the kinds of events on the user's calendar, with the LLM filling in
// for events no template fits.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keithlinneman/diary/internal/calendar"
	"github.com/keithlinneman/diary/internal/llm"
	"github.com/keithlinneman/diary/internal/log"
)

const (
	maxTodayEvents   = 20
	eventBudget      = 8
	maxLLMCalls      = 3
	maxQuestions     = 15
	maxEventLLMLines = 3
	descriptionChars = 300

	CategoryGenerated = "claude-generated"
)

// EventSource lists calendar events, implemented by *calendar.Service
type EventSource interface {
	Events(ctx context.Context, userID string, r calendar.Range) ([]calendar.Event, error)
}

type Generator struct {
	events EventSource
	llm    llm.Completer
	loc    *time.Location
	now    func() time.Time
}

type Options struct {
	Events EventSource
	LLM    llm.Completer
	// Location defines "today", defaults to time.Local
	Location *time.Location
}

func NewGenerator(opts Options) *Generator {
	g := &Generator{events: opts.Events, llm: opts.LLM, loc: opts.Location, now: time.Now}
	if g.loc == nil {
		g.loc = time.Local
	}
	return g
}

// Set is a batch of questions for one entry
type Set struct {
	Questions         []Question
	CalendarConnected bool
}

// Questions builds the question set for userID's day. Calendar and LLM
// failures degrade to template questions, only a cancelled context errors.
func (g *Generator) Questions(ctx context.Context, userID string, score *int) (Set, error) {
	r := RatingFor(score)
	L := log.FromContext(ctx)

	events, err := g.today(ctx, userID)
	switch {
	case errors.Is(err, calendar.ErrNotConnected):
		return Set{Questions: GeneralQuestions(r)}, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Set{}, ctxErr
		}
		L.Error(ctx, err, "journal questions: calendar lookup failed, using general questions")
		return Set{Questions: GeneralQuestions(r), CalendarConnected: true}, nil
	}

	if len(events) == 0 {
		var out []Question
		out = append(out, activityQuestions(r)[:1]...)
		out = append(out, socialQuestions(r)[:1]...)
		out = append(out, locationQuestions(r)[:1]...)
		out = append(out, GeneralQuestions(r)[:2]...)
		return Set{Questions: out, CalendarConnected: true}, nil
	}

	var out []Question
	llmCalls := 0
	for _, e := range events {
		if len(out) >= eventBudget {
			break
		}
		kind := Classify(e)
		if kind != KindOther || llmCalls >= maxLLMCalls {
			out = append(out, eventQuestions(kind, e.Summary, r)...)
			continue
		}
		llmCalls++
		out = append(out, g.generated(ctx, e, r, score)...)
	}

	out = append(out, busynessQuestions(len(events), r)...)
	out = append(out, activityQuestions(r)[:1]...)
	out = append(out, socialQuestions(r)[:1]...)
	out = append(out, locationQuestions(r)[:1]...)
	out = append(out, GeneralQuestions(r)[:1]...)

	return Set{Questions: dedupe(out, maxQuestions), CalendarConnected: true}, nil
}

func (g *Generator) today(ctx context.Context, userID string) ([]calendar.Event, error) {
	if g.events == nil {
		return nil, calendar.ErrNotConnected
	}
	now := g.now().In(g.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return g.events.Events(ctx, userID, calendar.Range{TimeMin: start, TimeMax: end, MaxResults: maxTodayEvents})
}

// generated asks the LLM for questions about an event no template fits,
// falling back to the generic template on any failure
func (g *Generator) generated(ctx context.Context, e calendar.Event, r Rating, score *int) []Question {
	fallback := eventQuestions(KindOther, e.Summary, r)
	if g.llm == nil {
		return fallback
	}
	text, err := g.llm.Complete(ctx, "event", eventPrompt(e, r, score, g.loc))
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			log.FromContext(ctx).Warn(ctx, "event question generation failed, using template", "err", err, "event_id", e.ID)
		}
		return fallback
	}
	lines := ParseQuestions(text, maxEventLLMLines)
	if len(lines) == 0 {
		return fallback
	}
	return qs(CategoryGenerated, lines...)
}

// dedupe drops repeated question texts keeping the first occurrence, then caps the list
func dedupe(in []Question, max int) []Question {
	seen := make(map[string]struct{}, len(in))
	out := make([]Question, 0, len(in))
	for _, q := range in {
		if _, dup := seen[q.Text]; dup {
			continue
		}
		seen[q.Text] = struct{}{}
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

var ratingContext = map[Rating]string{
	RatingHigh:   "The user had a good day (rating 8-10). Focus on what went well, what made it great, and what they want to repeat.",
	RatingMedium: "The user had an okay day (rating 4-7). Ask balanced questions about both highs and lows, and what could improve.",
	RatingLow:    "The user had a challenging day (rating 1-3). Ask supportive questions about challenges, what they learned, and how to cope.",
}

func eventPrompt(e calendar.Event, r Rating, score *int, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("You are a thoughtful journaling assistant. Generate 2-3 personalized, reflective journal questions based on the user's calendar event and day rating.\n\n")
	b.WriteString("Event Details:\n")
	fmt.Fprintf(&b, "- Title: %s\n", e.Summary)
	if e.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", truncateRunes(e.Description, descriptionChars))
	}
	if e.Location != "" {
		fmt.Fprintf(&b, "- Location: %s\n", e.Location)
	}
	if t, err := time.Parse(time.RFC3339, e.Start.DateTime); err == nil {
		fmt.Fprintf(&b, "- Time: %s\n", t.In(loc).Format("Mon Jan 2 2006, 3:04 PM"))
	}
	b.WriteString("\nDay Rating Context:\n")
	b.WriteString(ratingContext[r] + "\n")
	if score != nil && *score > 0 {
		fmt.Fprintf(&b, "Specific rating: %d/10\n", *score)
	}
	tone := byRating(r, "celebratory and positive", "supportive and gentle", "balanced and reflective")
	fmt.Fprintf(&b, `
Instructions:
- Generate 2-3 questions that are personalized to this specific event
- Adjust the tone and focus based on the rating: %s
- Make questions specific to the event (mention the event title naturally)
- Questions should encourage deep reflection
- For low ratings, be supportive and focus on learning/coping
- For high ratings, focus on what went well and repetition
- For medium ratings, balance both perspectives

Return only the questions, one per line, without numbering or bullet points.`, tone)
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
