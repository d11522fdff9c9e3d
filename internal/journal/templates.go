package journal

import "fmt"

// Rating buckets a 1..10 day score
type Rating string

const (
	RatingLow    Rating = "low"
	RatingMedium Rating = "medium"
	RatingHigh   Rating = "high"
)

// RatingFor maps a quality score to a rating. No score counts as medium.
func RatingFor(score *int) Rating {
	switch {
	case score == nil || *score == 0:
		return RatingMedium
	case *score >= 8:
		return RatingHigh
	case *score >= 4:
		return RatingMedium
	default:
		return RatingLow
	}
}

type Question struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// byRating picks the high, low or medium variant
func byRating[T any](r Rating, high, low, medium T) T {
	switch r {
	case RatingHigh:
		return high
	case RatingLow:
		return low
	default:
		return medium
	}
}

func qs(category string, texts ...string) []Question {
	out := make([]Question, len(texts))
	for i, t := range texts {
		out[i] = Question{Text: t, Category: category}
	}
	return out
}

// eventQuestions returns the canned questions for a known event type. Any
// other type gets a single generic question.
func eventQuestions(kind EventKind, title string, r Rating) []Question {
	f := fmt.Sprintf
	switch kind {
	case KindExam:
		return byRating(r,
			qs("exam",
				f("What went well in your %s? What study strategies worked for you?", title),
				f("How did you prepare for the %s? What would you want to remember for next time?", title)),
			qs("exam",
				f("What was challenging about the %s? What support do you need?", title),
				"What did you learn from this experience? How can you approach similar situations differently?"),
			qs("exam",
				f("How did the %s go? What parts went well and what was difficult?", title),
				f("What topics from the %s would you like to review or understand better?", title)),
		)
	case KindMeeting:
		return byRating(r,
			qs("meeting",
				f("What were the key takeaways from %s? What made it productive?", title),
				f("What action items or next steps came from %s? How do you feel about them?", title)),
			qs("meeting",
				f("What was challenging about %s? How did it make you feel?", title),
				f("What would have made %s more productive or supportive for you?", title)),
			qs("meeting",
				f("What were the main points discussed in %s?", title),
				f("How do you feel about the outcomes of %s?", title)),
		)
	case KindWorkout:
		return byRating(r,
			qs("workout",
				f("How did your %s feel? What made it great?", title),
				f("What goals did you achieve during %s? What do you want to repeat?", title)),
			qs("workout",
				f("How are you feeling after %s? What made it challenging?", title),
				"What do you need to recover or feel better? How can you adjust your approach?"),
			qs("workout",
				f("How did your %s go? What felt good and what was difficult?", title),
				f("What would you like to improve for your next %s?", title)),
		)
	case KindAppointment:
		return byRating(r,
			qs("appointment",
				f("How did your %s go? What was discussed and what were the outcomes?", title),
				f("What positive insights or next steps came from %s?", title)),
			qs("appointment",
				f("What happened during %s? What concerns or challenges came up?", title),
				f("What support or resources do you need following %s?", title)),
			qs("appointment",
				f("What was discussed during %s? How are you feeling about it?", title),
				f("What follow-up actions or next steps do you have from %s?", title)),
		)
	default:
		return byRating(r,
			qs("general", f("What made %s go well? What would you want to remember?", title)),
			qs("general", f("What happened during %s? How are you feeling about it?", title)),
			qs("general", f("How did %s go? What stood out to you?", title)),
		)
	}
}

func busynessQuestions(events int, r Rating) []Question {
	if events <= 0 {
		return nil
	}
	lead := fmt.Sprintf("You had %d event scheduled today.", events)
	if events > 1 {
		lead = fmt.Sprintf("You had %d events scheduled today.", events)
	}
	return qs("busyness", lead+" "+byRating(r,
		"Did you attend all of them? How did you manage your busy schedule?",
		"How did you prioritize your time? What did you skip or postpone?",
		"Did you attend all of them? How busy did today feel?",
	))
}

func activityQuestions(r Rating) []Question {
	return qs("activity", byRating(r,
		"How active were you today? What physical activities did you engage in?",
		"How did you feel physically today? Were you able to stay active, or did you need more rest?",
		"How active were you today? Did you get enough movement and exercise?",
	))
}

func socialQuestions(r Rating) []Question {
	return byRating(r,
		qs("social",
			"Who did you meet or interact with today? What relationships did you nurture?",
			"What social interactions stood out to you? How did they make you feel?"),
		qs("social", "Who did you connect with today? How did social interactions affect your day?"),
		qs("social", "Who did you meet or spend time with today? What's your relationship with them?"),
	)
}

func locationQuestions(r Rating) []Question {
	return byRating(r,
		qs("locations",
			"What places did you visit today? How much time did you spend outdoors versus indoors?",
			"Which location from today would you want to revisit? What made it special?"),
		qs("locations", "Where did you spend most of your time today? How did the places you visited affect your mood?"),
		qs("locations", "What places did you travel to today? How did you divide your time between indoor and outdoor spaces?"),
	)
}

// GeneralQuestions are the rating-only questions used when nothing else is known
func GeneralQuestions(r Rating) []Question {
	return byRating(r,
		qs("general",
			"What made today great? What moments brought you joy or satisfaction?",
			"What do you want to remember about today? What would you like to repeat?"),
		qs("general",
			"What challenges did you face today? How did you handle them?",
			"What did you learn about yourself today? What support do you need?"),
		qs("general",
			"What were the highlights and lowlights of your day?",
			"What could have made today better? What are you grateful for?"),
	)
}
