package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/calendar"
	"github.com/keithlinneman/diary/internal/journal"
	"github.com/keithlinneman/diary/internal/llm"
	"github.com/keithlinneman/diary/internal/weather"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const calendarNotConnected = "Google Calendar not connected. Please connect your Google account."

type weatherResponse struct {
	Weather *weather.Weather `json:"weather"`
}

func (api *API) HandleWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	latRaw, lngRaw := q.Get("lat"), q.Get("lng")
	if latRaw == "" || lngRaw == "" {
		api.writeError(ctx, w, badRequest("Latitude and longitude are required"))
		return
	}
	lat, err1 := strconv.ParseFloat(latRaw, 64)
	lng, err2 := strconv.ParseFloat(lngRaw, 64)
	if err1 != nil || err2 != nil || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		api.writeError(ctx, w, badRequest("Invalid latitude or longitude"))
		return
	}

	wx, err := api.weather.Lookup(ctx, lat, lng)
	if err != nil {
		api.writeError(ctx, w, xerrors.Public(err, http.StatusBadGateway, "Failed to fetch weather data"))
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, weatherResponse{Weather: wx})
}

type connectedResponse struct {
	Connected bool `json:"connected"`
}

type eventsResponse struct {
	Events []calendar.Event `json:"events"`
}

type syncResponse struct {
	Success  bool             `json:"success"`
	Events   []calendar.Event `json:"events"`
	SyncedAt time.Time        `json:"syncedAt"`
}

type calendarRangeRequest struct {
	TimeMin    *time.Time `json:"timeMin"`
	TimeMax    *time.Time `json:"timeMax"`
	MaxResults *int       `json:"maxResults" validate:"omitnil,min=1,max=250"`
}

func (c calendarRangeRequest) toRange() (calendar.Range, error) {
	var rg calendar.Range
	if c.TimeMin != nil {
		rg.TimeMin = *c.TimeMin
	}
	if c.TimeMax != nil {
		rg.TimeMax = *c.TimeMax
	}
	if c.MaxResults != nil {
		rg.MaxResults = *c.MaxResults
	}
	if !rg.TimeMin.IsZero() && !rg.TimeMax.IsZero() && !rg.TimeMax.After(rg.TimeMin) {
		return rg, badRequest("timeMax must be after timeMin")
	}
	return rg, nil
}

func calendarError(err error) error {
	if errors.Is(err, calendar.ErrNotConnected) {
		return xerrors.Public(err, http.StatusUnauthorized, calendarNotConnected)
	}
	return err
}

func (api *API) HandleCalendarConnected(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ok, err := api.calendar.Connected(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, connectedResponse{Connected: ok})
}

func (api *API) HandleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := rangeFromQuery(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	rg, err := req.toRange()
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	events, err := api.calendar.Events(ctx, auth.UserIDFromContext(ctx), rg)
	if err != nil {
		api.writeError(ctx, w, calendarError(err))
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, eventsResponse{Events: nonNil(events)})
}

func rangeFromQuery(r *http.Request) (calendarRangeRequest, error) {
	var req calendarRangeRequest
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"timeMin", &req.TimeMin}, {"timeMax", &req.TimeMax}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return req, badRequest(p.name + " must be an RFC 3339 timestamp")
			}
			*p.dst = &t
		}
	}
	if v := q.Get("maxResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, badRequest("maxResults must be a number")
		}
		req.MaxResults = &n
	}
	return req, validateStruct(&req)
}

// HandleCalendarSync is the POST form of events, returning when it synced
func (api *API) HandleCalendarSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req calendarRangeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	rg, err := req.toRange()
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	events, err := api.calendar.Events(ctx, auth.UserIDFromContext(ctx), rg)
	if err != nil {
		api.writeError(ctx, w, calendarError(err))
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, syncResponse{Success: true, Events: nonNil(events), SyncedAt: api.now().UTC()})
}

func nonNil(events []calendar.Event) []calendar.Event {
	if events == nil {
		return []calendar.Event{}
	}
	return events
}

type questionsRequest struct {
	QualityScore *int `json:"qualityScore"`
}

type questionsResponse struct {
	Questions         []journal.Question `json:"questions"`
	Count             int                `json:"count"`
	CalendarConnected bool               `json:"calendarConnected"`
}

// HandleJournalQuestions serves both GET ?qualityScore= and POST
// {"qualityScore":n}. Scores outside 1..10 are ignored.
func (api *API) HandleJournalQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var score *int
	if r.Method == http.MethodPost {
		var req questionsRequest
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(ctx, w, err)
			return
		}
		score = req.QualityScore
	} else if n, err := strconv.Atoi(r.URL.Query().Get("qualityScore")); err == nil {
		score = &n
	}
	if score != nil && (*score < 1 || *score > 10) {
		score = nil
	}

	set, err := api.journal.Questions(ctx, auth.UserIDFromContext(ctx), score)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	qs := set.Questions
	if qs == nil {
		qs = []journal.Question{}
	}
	api.writeJSON(ctx, w, http.StatusOK, questionsResponse{Questions: qs, Count: len(qs), CalendarConnected: set.CalendarConnected})
}

type followUpWeather struct {
	City        string   `json:"city" validate:"max=100"`
	State       string   `json:"state" validate:"max=50"`
	Condition   string   `json:"condition" validate:"max=100"`
	Temperature *float64 `json:"temperature"`
	Description string   `json:"description" validate:"max=200"`
}

type followUpRequest struct {
	Prompts   []string         `json:"prompts" validate:"max=50,dive,max=2000"`
	Responses []string         `json:"responses" validate:"max=50,dive,max=2000"`
	Mood      string           `json:"mood" validate:"max=200"`
	Weather   *followUpWeather `json:"weather"`
}

type followUpResponse struct {
	Questions []string `json:"questions"`
	Count     int      `json:"count"`
}

func (api *API) HandleFollowUpQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req followUpRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if len(req.Prompts) == 0 || len(req.Responses) == 0 {
		api.writeError(ctx, w, badRequest("Prompts and responses arrays are required"))
		return
	}
	if len(req.Prompts) != len(req.Responses) {
		api.writeError(ctx, w, badRequest("prompts and responses must have the same length"))
		return
	}

	in := journal.FollowUpRequest{Prompts: req.Prompts, Responses: req.Responses, Mood: req.Mood}
	if wx := req.Weather; wx != nil {
		in.Weather = &journal.Weather{City: wx.City, State: wx.State, Condition: wx.Condition, Description: wx.Description}
		if wx.Temperature != nil {
			in.Weather.Temperature = *wx.Temperature
		}
	}

	qs, err := api.journal.FollowUps(ctx, in)
	switch {
	case errors.Is(err, journal.ErrNoResponses):
		err = xerrors.Public(err, http.StatusBadRequest, "No valid responses provided")
	case errors.Is(err, llm.ErrNotConfigured):
		err = xerrors.Public(err, http.StatusServiceUnavailable, "Question generation is not configured")
	case err != nil:
		err = xerrors.Public(err, http.StatusBadGateway, "Failed to generate follow-up questions")
	}
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if qs == nil {
		qs = []string{}
	}
	api.writeJSON(ctx, w, http.StatusOK, followUpResponse{Questions: qs, Count: len(qs)})
}
