package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/keithlinneman/diary/internal/cryptoutil"
	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const (
	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	CalendarScope      = "https://www.googleapis.com/auth/calendar.readonly"

	maxUsernameLen  = 30
	usernameRetries = 5
)

var GoogleScopes = []string{"openid", "email", "profile", CalendarScope}

var usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// TokenCipher seals oauth tokens before they reach the store
type TokenCipher interface {
	Seal(ctx context.Context, plaintext string) (string, error)
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// UserInfoURL and Endpoint override google's for tests
	UserInfoURL string
	Endpoint    *oauth2.Endpoint
	HTTPClient  *http.Client
	Cipher      TokenCipher
}

type Google struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
	cipher      TokenCipher
}

func NewGoogle(cfg GoogleConfig) *Google {
	ep := google.Endpoint
	if cfg.Endpoint != nil {
		ep = *cfg.Endpoint
	}
	g := &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       GoogleScopes,
		},
		userInfoURL: cfg.UserInfoURL,
		client:      cfg.HTTPClient,
		cipher:      cfg.Cipher,
	}
	if g.userInfoURL == "" {
		g.userInfoURL = DefaultUserInfoURL
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: 15 * time.Second}
	}
	return g
}

// OAuthConfig is shared with the calendar service for token refresh
func (g *Google) OAuthConfig() *oauth2.Config { return g.oauth }

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

var errGoogleDisabled = xerrors.Public(nil, http.StatusNotFound, "Google sign-in is not configured")

// GoogleEnabled reports whether google sign-in is configured
func (s *Service) GoogleEnabled() bool { return s.google != nil }

// GoogleAuthURL returns the consent screen url with a signed state.
// Offline access and forced consent make google hand out a refresh token.
func (s *Service) GoogleAuthURL() (string, error) {
	if s.google == nil {
		return "", errGoogleDisabled
	}
	state, err := s.tokens.IssueState()
	if err != nil {
		return "", err
	}
	return s.google.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// GoogleCallback completes sign-in. The google identity is matched to a
// linked account first, then to a user with the same email, and a new user
// is created when neither exists.
func (s *Service) GoogleCallback(ctx context.Context, state, code string) (sess *Session, err error) {
	defer func() { s.record(EventGoogle, err) }()

	if s.google == nil {
		return nil, errGoogleDisabled
	}
	if err := s.tokens.VerifyState(state); err != nil {
		return nil, xerrors.Public(err, http.StatusBadRequest, "Invalid OAuth state")
	}
	if code == "" {
		return nil, xerrors.Public(nil, http.StatusBadRequest, "Missing authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.google.client)
	tok, err := s.google.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, xerrors.Public(xerrors.Wrap(err, "exchange google code"), http.StatusBadGateway, "Google sign-in failed")
	}
	gu, err := s.google.userInfo(ctx, tok)
	if err != nil {
		return nil, xerrors.Public(err, http.StatusBadGateway, "Google sign-in failed")
	}
	if gu.Sub == "" || gu.Email == "" {
		return nil, xerrors.Public(nil, http.StatusBadGateway, "Google sign-in failed")
	}
	if !gu.EmailVerified {
		return nil, xerrors.Public(nil, http.StatusForbidden, "Google account email is not verified")
	}

	u, err := s.googleUser(ctx, gu)
	if err != nil {
		return nil, err
	}
	if err := s.linkGoogle(ctx, u.ID, gu.Sub, tok); err != nil {
		return nil, err
	}
	return s.session(u)
}

func (g *Google) userInfo(ctx context.Context, tok *oauth2.Token) (*googleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, http.NoBody)
	if err != nil {
		return nil, xerrors.Wrap(err, "build userinfo request")
	}
	resp, err := g.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "fetch google userinfo")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Newf("google userinfo: status %d", resp.StatusCode)
	}
	gu := new(googleUser)
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(gu); err != nil {
		return nil, xerrors.Wrap(err, "decode google userinfo")
	}
	return gu, nil
}

func (s *Service) googleUser(ctx context.Context, gu *googleUser) (*store.User, error) {
	acct, err := s.users.AccountByProviderID(ctx, store.ProviderGoogle, gu.Sub)
	switch {
	case err == nil:
		return s.users.UserByID(ctx, acct.UserID)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	u, err := s.users.UserByEmail(ctx, gu.Email)
	switch {
	case err == nil:
		return u, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return s.createGoogleUser(ctx, gu)
}

func (s *Service) createGoogleUser(ctx context.Context, gu *googleUser) (*store.User, error) {
	base := usernameFromEmail(gu.Email)
	for i := 0; i < usernameRetries; i++ {
		name := base
		if i > 0 {
			suffix, err := cryptoutil.RandomHex(2)
			if err != nil {
				return nil, err
			}
			name = base[:min(len(base), maxUsernameLen-5)] + "_" + suffix
		}
		u := &store.User{
			Email:          gu.Email,
			Username:       name,
			FirstName:      optional(gu.GivenName),
			LastName:       optional(gu.FamilyName),
			ProfilePicture: optional(gu.Picture),
		}
		err := s.users.CreateUser(ctx, u)
		if err == nil {
			log.FromContext(ctx).Info(ctx, "user created from google sign-in", "user_id", u.ID)
			return u, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
	}
	return nil, xerrors.Newf("no free username for %q after %d attempts", base, usernameRetries)
}

func (s *Service) linkGoogle(ctx context.Context, userID, sub string, tok *oauth2.Token) error {
	access, err := s.seal(ctx, tok.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(ctx, tok.RefreshToken)
	if err != nil {
		return err
	}
	a := &store.Account{
		UserID:            userID,
		Provider:          store.ProviderGoogle,
		ProviderAccountID: sub,
		AccessToken:       access,
		RefreshToken:      refresh,
		TokenType:         tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		a.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		a.Scope = scope
	}
	return s.users.UpsertAccount(ctx, a)
}

func (s *Service) seal(ctx context.Context, v string) (string, error) {
	if s.google.cipher == nil || v == "" {
		return v, nil
	}
	return s.google.cipher.Seal(ctx, v)
}

// usernameFromEmail derives a valid username from the local part of email
func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	name := usernameStrip.ReplaceAllString(local, "")
	if len(name) > maxUsernameLen {
		name = name[:maxUsernameLen]
	}
	if len(name) < 3 {
		name = "user" + name
	}
	return strings.ToLower(name)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
