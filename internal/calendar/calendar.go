// Package calendar reads a user's Google Calendar using the oauth tokens
// stored when they signed in with Google. Access tokens are refreshed on
// demand and the refreshed set is written back to the store.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

// ErrNotConnected means the user has no usable google account link
var ErrNotConnected = errors.New("google calendar not connected")

const (
	DefaultBaseURL    = "https://www.googleapis.com/calendar/v3"
	DefaultMaxResults = 50
	MaxResultsLimit   = 250
	DefaultSpan       = 30 * 24 * time.Hour

	maxBodyBytes = 4 << 20
)

type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	Location    string    `json:"location,omitempty"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// Range selects events. Zero times default to now and now+30d, a zero
// MaxResults to 50.
type Range struct {
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int
}

// AccountStore is the part of the store the service needs
type AccountStore interface {
	AccountFor(ctx context.Context, userID, provider string) (*store.Account, error)
	UpdateAccountTokens(ctx context.Context, accountID, access, refresh string, expiry *time.Time) error
}

// TokenCipher seals tokens at rest, see cryptoutil.TokenCipher
type TokenCipher interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, value string) (string, error)
}

type Options struct {
	Accounts   AccountStore
	Cipher     TokenCipher
	OAuth      *oauth2.Config
	HTTPClient *http.Client
	BaseURL    string

	// Observe receives the outcome of every events call
	Observe func(outcome string)
}

type Service struct {
	accounts AccountStore
	cipher   TokenCipher
	oauth    *oauth2.Config
	client   *http.Client
	baseURL  string
	now      func() time.Time
	observe  func(outcome string)
}

func New(opts Options) *Service {
	s := &Service{
		accounts: opts.Accounts,
		cipher:   opts.Cipher,
		oauth:    opts.OAuth,
		client:   opts.HTTPClient,
		baseURL:  opts.BaseURL,
		now:      time.Now,
		observe:  opts.Observe,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	return s
}

// Connected reports whether the user has a google account with an access token
func (s *Service) Connected(ctx context.Context, userID string) (bool, error) {
	acct, err := s.accounts.AccountFor(ctx, userID, store.ProviderGoogle)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acct.AccessToken != "", nil
}

// Events lists events on the user's primary calendar, expanded and ordered by start time
func (s *Service) Events(ctx context.Context, userID string, r Range) ([]Event, error) {
	events, err := s.events(ctx, userID, r)
	switch {
	case err == nil:
		s.record("ok")
	case errors.Is(err, ErrNotConnected):
		s.record("not_connected")
	default:
		s.record("error")
	}
	return events, err
}

func (s *Service) events(ctx context.Context, userID string, r Range) ([]Event, error) {
	tok, err := s.token(ctx, userID)
	if err != nil {
		return nil, err
	}
	r = s.normalize(r)

	q := url.Values{}
	q.Set("timeMin", r.TimeMin.UTC().Format(time.RFC3339Nano))
	q.Set("timeMax", r.TimeMax.UTC().Format(time.RFC3339Nano))
	q.Set("maxResults", strconv.Itoa(r.MaxResults))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/calendars/primary/events?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, xerrors.Wrap(err, "build events request")
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "list calendar events")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, xerrors.Wrap(fmt.Errorf("%w: access revoked", ErrNotConnected), "list calendar events")
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, xerrors.Newf("list calendar events: status %d: %s", resp.StatusCode, snippet)
	}

	var body struct {
		Items []Event `json:"items"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, xerrors.Wrap(err, "decode calendar events")
	}
	events := make([]Event, 0, len(body.Items))
	for _, e := range body.Items {
		if e.Summary == "" {
			e.Summary = "No Title"
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Service) normalize(r Range) Range {
	now := s.now()
	if r.TimeMin.IsZero() {
		r.TimeMin = now
	}
	if r.TimeMax.IsZero() {
		r.TimeMax = now.Add(DefaultSpan)
	}
	if r.MaxResults <= 0 {
		r.MaxResults = DefaultMaxResults
	}
	if r.MaxResults > MaxResultsLimit {
		r.MaxResults = MaxResultsLimit
	}
	return r
}

func (s *Service) record(outcome string) {
	if s.observe != nil {
		s.observe(outcome)
	}
}
