// Package auth handles credentials, bearer session tokens, password reset
// and Google sign-in.
package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keithlinneman/diary/internal/cryptoutil"
	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/mailer"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const (
	ResetTokenTTL   = time.Hour
	resetTokenBytes = 32
)

// Event names reported to Options.Observe
const (
	EventSignup = "signup"
	EventSignin = "signin"
	EventForgot = "forgot"
	EventReset  = "reset"
	EventGoogle = "google"
)

// UserStore is the part of the store auth needs
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	UserByID(ctx context.Context, id string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	EmailOrUsernameTaken(ctx context.Context, email, username string) (bool, error)
	SetPassword(ctx context.Context, userID, hash string) error

	CreateResetToken(ctx context.Context, email, tokenHash string, expires time.Time) error
	ResetTokens(ctx context.Context, email string) ([]store.VerificationToken, error)
	DeleteResetTokens(ctx context.Context, email string) error

	AccountByProviderID(ctx context.Context, provider, providerAccountID string) (*store.Account, error)
	UpsertAccount(ctx context.Context, a *store.Account) error
}

type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type Options struct {
	Users      UserStore
	Tokens     *TokenManager
	Mailer     Mailer
	PublicURL  string
	BcryptCost int
	// ResetTTL is how long a reset link stays valid, defaults to ResetTokenTTL
	ResetTTL time.Duration

	// Google enables google sign-in when set
	Google *Google

	// Observe receives (event, outcome) for every auth operation
	Observe func(event, outcome string)
}

type Service struct {
	users     UserStore
	tokens    *TokenManager
	mail      Mailer
	publicURL string
	cost      int
	resetTTL  time.Duration
	google    *Google
	now       func() time.Time
	observe   func(event, outcome string)
}

func NewService(opts Options) *Service {
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = ResetTokenTTL
	}
	return &Service{
		users:     opts.Users,
		tokens:    opts.Tokens,
		mail:      opts.Mailer,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		cost:      opts.BcryptCost,
		resetTTL:  opts.ResetTTL,
		google:    opts.Google,
		now:       time.Now,
		observe:   opts.Observe,
	}
}

// Session is what a successful sign-in returns to the client
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *store.User
}

type SignupInput struct {
	Email    string
	Username string
	Password string
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (u *store.User, err error) {
	defer func() { s.record(EventSignup, err) }()

	email := strings.TrimSpace(in.Email)
	taken, err := s.users.EmailOrUsernameTaken(ctx, email, in.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errDuplicateUser(nil)
	}
	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}
	u = &store.User{Email: email, Username: in.Username, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errDuplicateUser(err)
		}
		return nil, err
	}
	log.FromContext(ctx).Info(ctx, "user signed up", "user_id", u.ID)
	return u, nil
}

func errDuplicateUser(err error) error {
	return xerrors.Public(err, http.StatusBadRequest, "User with this email or username already exists")
}

// Signin checks email and password and issues a session
func (s *Service) Signin(ctx context.Context, email, password string) (sess *Session, err error) {
	defer func() { s.record(EventSignin, err) }()

	u, err := s.users.UserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials()
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, errBadCredentials()
	}
	return s.session(u)
}

func errBadCredentials() error {
	return xerrors.Public(nil, http.StatusUnauthorized, "Invalid email or password")
}

func (s *Service) session(u *store.User) (*Session, error) {
	tok, exp, err := s.tokens.IssueSession(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

// ForgotPassword mails a reset link when email belongs to a user. Unknown
// addresses succeed silently and mail failures are only logged.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.record(EventForgot, err) }()

	email = strings.TrimSpace(email)
	_, err = s.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := cryptoutil.RandomHex(resetTokenBytes)
	if err != nil {
		return err
	}
	hash := cryptoutil.SHA256Hex([]byte(token))
	if err := s.users.CreateResetToken(ctx, email, hash, s.now().Add(s.resetTTL)); err != nil {
		return err
	}

	link := s.resetURL(token, email)
	msg := mailer.Message{
		To:      email,
		Subject: "Reset your password",
		Text:    "Reset your password using this link: " + link,
		HTML: fmt.Sprintf(`<p>Reset your password using this link:</p><p><a href="%s">%s</a></p>`,
			html.EscapeString(link), html.EscapeString(link)),
	}
	if s.mail != nil {
		if mErr := s.mail.Send(ctx, msg); mErr != nil {
			log.FromContext(ctx).Error(ctx, mErr, "send reset email")
		}
	}
	return nil
}

func (s *Service) resetURL(token, email string) string {
	base := s.publicURL
	if base == "" {
		base = "http://localhost:8080"
	}
	q := url.Values{"token": {token}, "email": {email}}
	return base + "/auth/reset?" + q.Encode()
}

// ResetPassword sets a new password when token is a live reset token for
// email. Every reset token for the address is removed afterwards.
func (s *Service) ResetPassword(ctx context.Context, email, token, password string) (err error) {
	defer func() { s.record(EventReset, err) }()

	email = strings.TrimSpace(email)
	tokens, err := s.users.ResetTokens(ctx, email)
	if err != nil {
		return err
	}
	hash := cryptoutil.SHA256Hex([]byte(token))
	now := s.now()
	valid := false
	for _, vt := range tokens {
		if cryptoutil.HashEqual(vt.TokenHash, hash) && vt.Expires.After(now) {
			valid = true
		}
	}
	if !valid {
		return xerrors.Public(nil, http.StatusBadRequest, "Invalid or expired token")
	}

	u, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return xerrors.Public(err, http.StatusBadRequest, "Invalid token")
	}
	if err != nil {
		return err
	}
	pw, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, u.ID, pw); err != nil {
		return err
	}
	return s.users.DeleteResetTokens(ctx, email)
}

// User returns the user behind a session
func (s *Service) User(ctx context.Context, userID string) (*store.User, error) {
	u, err := s.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, xerrors.Public(err, http.StatusNotFound, "User not found")
	}
	return u, err
}

func (s *Service) record(event string, err error) {
	if s.observe == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case xerrors.StatusOf(err) < http.StatusInternalServerError:
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.observe(event, outcome)
}
