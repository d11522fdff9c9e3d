package journal

import (
	"regexp"
	"strings"

	"github.com/keithlinneman/diary/internal/calendar"
)

type EventKind string

const (
	KindExam        EventKind = "exam"
	KindMeeting     EventKind = "meeting"
	KindWorkout     EventKind = "workout"
	KindAppointment EventKind = "appointment"
	KindOther       EventKind = "other"
)

// checked in order, the first match wins
var kindPatterns = []struct {
	kind EventKind
	re   *regexp.Regexp
}{
	{KindExam, regexp.MustCompile(`\b(exam|test|quiz|midterm|final|assessment)\b`)},
	{KindMeeting, regexp.MustCompile(`\b(meeting|standup|sync|conference)\b`)},
	{KindWorkout, regexp.MustCompile(`\b(workout|gym|exercise|fitness|run|yoga|pilates|cycling|swim)\b`)},
	{KindAppointment, regexp.MustCompile(`\b(appointment|doctor|dentist|therapy|counseling|checkup|consultation)\b`)},
}

// Classify guesses what kind of event e is from its title and description
func Classify(e calendar.Event) EventKind {
	text := strings.ToLower(e.Summary + " " + e.Description)
	for _, p := range kindPatterns {
		if p.re.MatchString(text) {
			return p.kind
		}
	}
	return KindOther
}

var (
	numberedLine = regexp.MustCompile(`^\d+[.)]`)
	bulletPrefix = regexp.MustCompile(`^[-•*]\s*`)
)

// ParseQuestions extracts at most max questions from model output: one per
// line, blank and numbered lines dropped, bullet markers stripped.
func ParseQuestions(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if len(out) == max {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || numberedLine.MatchString(line) {
			continue
		}
		if q := bulletPrefix.ReplaceAllString(line, ""); q != "" {
			out = append(out, q)
		}
	}
	return out
}
