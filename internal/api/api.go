// Package api serves the JSON endpoints under /api.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/calendar"
	"github.com/keithlinneman/diary/internal/httpmw"
	"github.com/keithlinneman/diary/internal/journal"
	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/media"
	"github.com/keithlinneman/diary/internal/ratelimit"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/weather"
)

const (
	maxJSONBody   = 1 << 20
	maxAuthBody   = 16 << 10
	uploadMemory  = 8 << 20
	uploadOverrun = 1 << 20
)

// Accounts is implemented by *auth.Service
type Accounts interface {
	Signup(ctx context.Context, in auth.SignupInput) (*store.User, error)
	Signin(ctx context.Context, email, password string) (*auth.Session, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, token, password string) error
	GoogleAuthURL() (string, error)
	GoogleCallback(ctx context.Context, state, code string) (*auth.Session, error)
}

// Store is the part of *store.Store the handlers use
type Store interface {
	UserByID(ctx context.Context, id string) (*store.User, error)
	UpdateProfile(ctx context.Context, userID string, p store.ProfileUpdate) (*store.User, error)
	SearchUsers(ctx context.Context, q, excludeID string, take int) ([]store.User, error)

	CreateEntry(ctx context.Context, e *store.Entry) error
	Entry(ctx context.Context, userID, id string) (*store.Entry, error)
	Entries(ctx context.Context, userID string, limit, offset int) ([]store.Entry, error)
	UpdateEntry(ctx context.Context, userID, id string, u store.EntryUpdate) (*store.Entry, error)
	DeleteEntry(ctx context.Context, userID, id string) error
}

type Media interface {
	Upload(ctx context.Context, userID string, rules media.Rules, f media.File, body io.Reader) (*media.Object, error)
	DeleteOwned(ctx context.Context, userID, folder, rawURL string) (bool, error)
}

type Weather interface {
	Lookup(ctx context.Context, lat, lng float64) (*weather.Weather, error)
}

type Calendar interface {
	Connected(ctx context.Context, userID string) (bool, error)
	Events(ctx context.Context, userID string, r calendar.Range) ([]calendar.Event, error)
}

type Journal interface {
	Questions(ctx context.Context, userID string, score *int) (journal.Set, error)
	FollowUps(ctx context.Context, req journal.FollowUpRequest) ([]string, error)
}

// Policies are the rate limits applied to route groups
type Policies struct {
	API    ratelimit.Policy
	Auth   ratelimit.Policy
	Upload ratelimit.Policy
}

type Options struct {
	Logger   log.Logger
	Accounts Accounts
	Tokens   *auth.TokenManager
	Store    Store
	Media    Media
	Weather  Weather
	Calendar Calendar
	Journal  Journal

	// Limiter is optional, nil disables rate limiting
	Limiter  *ratelimit.Limiter
	Policies Policies

	// MaxJSONBody caps authenticated json bodies, 0 uses the 1MB default
	MaxJSONBody int64
}

type API struct {
	logger   log.Logger
	accounts Accounts
	tokens   *auth.TokenManager
	store    Store
	media    Media
	weather  Weather
	calendar Calendar
	journal  Journal
	limiter  *ratelimit.Limiter
	policies Policies
	maxBody  int64
	now      func() time.Time
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	p := opts.Policies
	if p.API.Name == "" {
		p.API = ratelimit.API
	}
	if p.Auth.Name == "" {
		p.Auth = ratelimit.Auth
	}
	if p.Upload.Name == "" {
		p.Upload = ratelimit.Upload
	}
	if opts.MaxJSONBody <= 0 {
		opts.MaxJSONBody = maxJSONBody
	}
	return &API{
		logger:   opts.Logger,
		accounts: opts.Accounts,
		tokens:   opts.Tokens,
		store:    opts.Store,
		media:    opts.Media,
		weather:  opts.Weather,
		calendar: opts.Calendar,
		journal:  opts.Journal,
		limiter:  opts.Limiter,
		policies: p,
		maxBody:  opts.MaxJSONBody,
		now:      time.Now,
	}
}

// RegisterRoutes mounts every /api route on r
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(api.limit(api.policies.API, ratelimit.KeyByIP))

		r.Route("/auth", func(r chi.Router) {
			r.Use(httpmw.Scope("auth"))
			r.Use(api.limit(api.policies.Auth, ratelimit.KeyByIP))
			r.Use(httpmw.MaxBody(maxAuthBody))
			r.Post("/signup", api.HandleSignup)
			r.Post("/signin", api.HandleSignin)
			r.Post("/forgot", api.HandleForgotPassword)
			r.Post("/reset", api.HandleResetPassword)
			r.Get("/google/start", api.HandleGoogleStart)
			r.Get("/google/callback", api.HandleGoogleCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(api.tokens))

			r.Group(func(r chi.Router) {
				r.Use(httpmw.MaxBody(api.maxBody))
				r.Get("/profile", api.HandleGetProfile)
				r.Put("/profile", api.HandleUpdateProfile)
				r.Get("/users/search", api.HandleSearchUsers)

				r.Get("/entries", api.HandleListEntries)
				r.Post("/entries", api.HandleCreateEntry)
				r.Get("/entries/{id}", api.HandleGetEntry)
				r.Patch("/entries/{id}", api.HandleUpdateEntry)
				r.Delete("/entries/{id}", api.HandleDeleteEntry)

				r.With(httpmw.Scope("weather")).Get("/weather", api.HandleWeather)

				cal := r.With(httpmw.Scope("calendar"))
				cal.Get("/calendar/connect", api.HandleCalendarConnected)
				cal.Get("/calendar/events", api.HandleCalendarEvents)
				cal.Post("/calendar/sync", api.HandleCalendarSync)

				j := r.With(httpmw.Scope("journal"))
				j.Get("/journal/questions", api.HandleJournalQuestions)
				j.Post("/journal/questions", api.HandleJournalQuestions)
				j.Post("/guided/followup-questions", api.HandleFollowUpQuestions)
			})

			r.Group(func(r chi.Router) {
				r.Use(httpmw.Scope("upload"))
				r.Use(api.limit(api.policies.Upload, auth.KeyByUser))
				r.Post("/media/upload", api.HandleMediaUpload)
				r.Post("/profile/upload", api.HandleProfileUpload)
			})
		})
	})
}

func (api *API) limit(p ratelimit.Policy, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
	if api.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return api.limiter.Middleware(p, key)
}
