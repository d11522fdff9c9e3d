package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/diary/internal/xerrors"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const (
	issuer          = "diary"
	purposeSession  = "session"
	purposeState    = "oauth_state"
	stateTTL        = 10 * time.Minute
	minSecretLength = 32
)

type Claims struct {
	Username string `json:"username,omitempty"`
	Purpose  string `json:"pur"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens for sessions and oauth state
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < minSecretLength {
		return nil, xerrors.Newf("session secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		return nil, xerrors.New("session ttl must be positive")
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// IssueSession returns a session token for the user and when it expires
func (m *TokenManager) IssueSession(userID, username string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	tok, err := m.sign(&Claims{
		Username: username,
		Purpose:  purposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return tok, exp, err
}

// ParseSession verifies a session token and returns its claims
func (m *TokenManager) ParseSession(token string) (*Claims, error) {
	c, err := m.parse(token, purposeSession)
	if err != nil {
		return nil, err
	}
	if c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// IssueState returns a short lived signed value for the oauth state parameter
func (m *TokenManager) IssueState() (string, error) {
	now := m.now()
	return m.sign(&Claims{
		Purpose: purposeState,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	})
}

func (m *TokenManager) VerifyState(state string) error {
	_, err := m.parse(state, purposeState)
	return err
}

func (m *TokenManager) sign(c *Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", xerrors.Wrap(err, "sign token")
	}
	return s, nil
}

func (m *TokenManager) parse(token, purpose string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	case claims.Purpose != purpose:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
