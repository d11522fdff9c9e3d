package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

// token loads the user's google token, refreshing it when expired. A
// refreshed token is sealed and persisted before it is used.
func (s *Service) token(ctx context.Context, userID string) (*oauth2.Token, error) {
	if s.oauth == nil {
		return nil, xerrors.Wrap(fmt.Errorf("%w: google oauth is not configured", ErrNotConnected), "calendar token")
	}
	acct, err := s.accounts.AccountFor(ctx, userID, store.ProviderGoogle)
	if errors.Is(err, store.ErrNotFound) {
		return nil, xerrors.Wrap(ErrNotConnected, "calendar token")
	}
	if err != nil {
		return nil, err
	}
	if acct.AccessToken == "" || acct.RefreshToken == "" {
		return nil, xerrors.Wrap(fmt.Errorf("%w: tokens missing", ErrNotConnected), "calendar token")
	}

	access, err := s.open(ctx, acct.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.open(ctx, acct.RefreshToken)
	if err != nil {
		return nil, err
	}

	stored := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: acct.TokenType}
	if acct.ExpiresAt != nil {
		stored.Expiry = *acct.ExpiresAt
	}

	// oauth2 only refreshes when the token is expired, its own http client
	// is taken from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauth.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, xerrors.Wrap(fmt.Errorf("%w: refresh failed: %w", ErrNotConnected, err), "calendar token")
	}
	if tok.AccessToken != stored.AccessToken {
		if err := s.persist(ctx, acct.ID, tok, refresh); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

func (s *Service) persist(ctx context.Context, accountID string, tok *oauth2.Token, oldRefresh string) error {
	access, err := s.seal(ctx, tok.AccessToken)
	if err != nil {
		return err
	}
	refresh := ""
	if tok.RefreshToken != "" && tok.RefreshToken != oldRefresh {
		if refresh, err = s.seal(ctx, tok.RefreshToken); err != nil {
			return err
		}
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}
	return s.accounts.UpdateAccountTokens(ctx, accountID, access, refresh, expiry)
}

func (s *Service) open(ctx context.Context, v string) (string, error) {
	if s.cipher == nil {
		return v, nil
	}
	return s.cipher.Open(ctx, v)
}

func (s *Service) seal(ctx context.Context, v string) (string, error) {
	if s.cipher == nil {
		return v, nil
	}
	return s.cipher.Seal(ctx, v)
}
