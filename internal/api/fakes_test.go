package api

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/calendar"
	"github.com/keithlinneman/diary/internal/journal"
	"github.com/keithlinneman/diary/internal/media"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/weather"
)

type fakeAccounts struct {
	tokens   *auth.TokenManager
	users    map[string]*store.User
	forgot   []string
	signupFn func(auth.SignupInput) error
}

func (f *fakeAccounts) Signup(_ context.Context, in auth.SignupInput) (*store.User, error) {
	if f.signupFn != nil {
		if err := f.signupFn(in); err != nil {
			return nil, err
		}
	}
	u := &store.User{ID: uuid.NewString(), Email: in.Email, Username: in.Username, CreatedAt: time.Now()}
	f.users[in.Email] = u
	return u, nil
}

func (f *fakeAccounts) Signin(_ context.Context, email, password string) (*auth.Session, error) {
	u, ok := f.users[email]
	if !ok || password != "password123" {
		return nil, errBadLogin
	}
	tok, exp, err := f.tokens.IssueSession(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &auth.Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

func (f *fakeAccounts) ForgotPassword(_ context.Context, email string) error {
	f.forgot = append(f.forgot, email)
	return nil
}

func (f *fakeAccounts) ResetPassword(context.Context, string, string, string) error { return nil }

func (f *fakeAccounts) GoogleAuthURL() (string, error) {
	return "https://accounts.google.example/auth?state=s", nil
}

func (f *fakeAccounts) GoogleCallback(context.Context, string, string) (*auth.Session, error) {
	return nil, badRequest("Invalid OAuth state")
}

var errBadLogin = badRequest("Invalid email or password")

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	entries  map[string]*store.Entry
	searched int
	lastTake int
	// updateErr fails every UpdateProfile call when set
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*store.User), entries: make(map[string]*store.Entry)}
}

func (f *fakeStore) addUser(u *store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeStore) UserByID(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, id string, p store.ProfileUpdate) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	set := func(dst **string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			*dst = nil
			return
		}
		s := *v
		*dst = &s
	}
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.ProfilePicture, p.ProfilePicture)
	cp := *u
	return &cp, nil
}

func (f *fakeStore) SearchUsers(_ context.Context, q, exclude string, take int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched++
	f.lastTake = take
	var out []store.User
	for _, u := range f.users {
		if u.ID != exclude && strings.Contains(strings.ToLower(u.Username), strings.ToLower(q)) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateEntry(_ context.Context, e *store.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeStore) Entry(_ context.Context, userID, id string) (*store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) Entries(_ context.Context, userID string, limit, offset int) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Entry
	for _, e := range f.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateEntry(_ context.Context, userID, id string, u store.EntryUpdate) (*store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.UserID != userID {
		return nil, store.ErrNotFound
	}
	if u.Content != nil {
		e.Content = *u.Content
	}
	if u.Visibility != nil {
		e.Visibility = *u.Visibility
	}
	if u.MediaURLs != nil {
		e.MediaURLs = *u.MediaURLs
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) DeleteEntry(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.entries, id)
	return nil
}

type fakeMedia struct {
	uploaded []media.File
	body     bytes.Buffer
	deleted  []string
}

func (f *fakeMedia) Upload(_ context.Context, userID string, rules media.Rules, file media.File, body io.Reader) (*media.Object, error) {
	kind, ext, err := rules.Check(file)
	if err != nil {
		return nil, err
	}
	f.uploaded = append(f.uploaded, file)
	io.Copy(&f.body, body)
	key := rules.Folder + "/" + userID + "-1." + ext
	return &media.Object{Key: key, URL: "/" + key, ContentType: file.ContentType, Size: file.Size, Kind: kind}, nil
}

func (f *fakeMedia) DeleteOwned(_ context.Context, userID, folder, rawURL string) (bool, error) {
	f.deleted = append(f.deleted, rawURL)
	return true, nil
}

type fakeWeather struct {
	err error
}

func (f *fakeWeather) Lookup(context.Context, float64, float64) (*weather.Weather, error) {
	if f.err != nil {
		return nil, f.err
	}
	temp := 72.0
	return &weather.Weather{City: "Denver", State: "CO", Temperature: &temp, Condition: "Sunny"}, nil
}

type fakeCalendar struct {
	connected bool
	events    []calendar.Event
	lastRange calendar.Range
}

func (f *fakeCalendar) Connected(context.Context, string) (bool, error) { return f.connected, nil }

func (f *fakeCalendar) Events(_ context.Context, _ string, r calendar.Range) ([]calendar.Event, error) {
	f.lastRange = r
	if !f.connected {
		return nil, calendar.ErrNotConnected
	}
	return f.events, nil
}

type fakeJournal struct {
	lastScore *int
	followErr error
}

func (f *fakeJournal) Questions(_ context.Context, _ string, score *int) (journal.Set, error) {
	f.lastScore = score
	return journal.Set{Questions: []journal.Question{{Text: "How was your day?", Category: "general"}}}, nil
}

func (f *fakeJournal) FollowUps(_ context.Context, req journal.FollowUpRequest) ([]string, error) {
	if f.followErr != nil {
		return nil, f.followErr
	}
	return []string{"What made that meaningful?"}, nil
}
